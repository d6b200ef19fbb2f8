// Package dedup はタイトルを同一性キーとした重複判定とアーカイブのマージを提供する。
package dedup

import "github.com/hitoshi/newsarchive/internal/model"

// Index は既知タイトルの集合。実行開始時にアーカイブから構築し、
// 採用のたびにその場で拡張する。永続化はしない。
type Index struct {
	titles map[string]struct{}
}

// NewIndex は既存レコードのタイトルからIndexを構築する。
func NewIndex(records []model.Record) *Index {
	idx := &Index{titles: make(map[string]struct{}, len(records))}
	for _, r := range records {
		idx.Add(r.Title)
	}
	return idx
}

// Contains はタイトルが既知かを返す。
func (i *Index) Contains(title string) bool {
	_, ok := i.titles[model.TitleKey(title)]
	return ok
}

// Add はタイトルを既知として登録する。新規に追加された場合にtrueを返す。
func (i *Index) Add(title string) bool {
	key := model.TitleKey(title)
	if key == "" {
		return false
	}
	if _, ok := i.titles[key]; ok {
		return false
	}
	i.titles[key] = struct{}{}
	return true
}

// Len は登録済みタイトル数を返す。
func (i *Index) Len() int {
	return len(i.titles)
}

// UniqueByTitle はタイトル重複を除いたレコード列を最初の出現順で返す。
func UniqueByTitle(records []model.Record) []model.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		key := r.TitleKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
