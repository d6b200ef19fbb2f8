package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/newsarchive/internal/model"
)

type topicsFile struct {
	Categories []model.Topic `yaml:"categories"`
}

// LoadTopics はYAMLファイルから検索カテゴリを読み込む。
// 各カテゴリには name と search_pattern が必須。title_keywords が空の場合は name を使う。
// source が空の場合も name を使う。
func LoadTopics(path string) ([]model.Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read categories file %s: %w", path, err)
	}
	return ParseTopics(data)
}

// ParseTopics はYAMLバイト列から検索カテゴリを解析する。
func ParseTopics(data []byte) ([]model.Topic, error) {
	var f topicsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse categories: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("categories file defines no categories")
	}

	seen := make(map[string]bool, len(f.Categories))
	for i := range f.Categories {
		t := &f.Categories[i]
		if t.Name == "" || t.SearchPattern == "" {
			return nil, fmt.Errorf("category #%d requires name and search_pattern", i+1)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate category name %q", t.Name)
		}
		seen[t.Name] = true
		if len(t.TitleKeywords) == 0 {
			t.TitleKeywords = []string{t.Name}
		}
		if t.Source == "" {
			t.Source = t.Name
		}
	}
	return f.Categories, nil
}
