package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeArchive はアーカイブを保存用のJSONに変換する。
// 既存ファイルとの差分を読みやすくするため、2スペースのインデントで非ASCII文字をそのまま出力する。
func EncodeArchive(a *Archive) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("archive is nil")
	}
	doc := *a
	if doc.Reports == nil {
		doc.Reports = []Record{}
	}
	doc.TotalReports = len(doc.Reports)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to encode archive: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeArchive は保存済みJSONをアーカイブに変換する。
func DecodeArchive(data []byte) (*Archive, error) {
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode archive: %w", err)
	}
	if a.Reports == nil {
		a.Reports = []Record{}
	}
	return &a, nil
}
