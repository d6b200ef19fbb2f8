package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/newsarchive/internal/dedup"
	"github.com/hitoshi/newsarchive/internal/model"
)

// Evaluation はページ取得後の判定に必要な情報。
type Evaluation struct {
	Topic model.Topic
	Page  *model.ResolvedPage
	Index *dedup.Index
}

// CandidatePredicate はページ取得前に候補を判定する。Keepがfalseの場合はReasonで不採用とする。
type CandidatePredicate struct {
	Reason model.RejectReason
	Keep   func(c model.Candidate) bool
}

// PagePredicate はページ取得後に候補を判定する。
type PagePredicate struct {
	Reason model.RejectReason
	Keep   func(ev Evaluation) bool
}

// URLContains は候補URLが指定文字列を含むことを要求する。fragmentが空なら常に通過する。
func URLContains(fragment string) CandidatePredicate {
	return CandidatePredicate{
		Reason: model.RejectURLMismatch,
		Keep: func(c model.Candidate) bool {
			return fragment == "" || strings.Contains(c.URL, fragment)
		},
	}
}

// TitlePresent は空でない見出しを要求する。
func TitlePresent() PagePredicate {
	return PagePredicate{
		Reason: model.RejectNoTitle,
		Keep: func(ev Evaluation) bool {
			return model.TitleKey(ev.Page.Title) != ""
		},
	}
}

// NotDuplicate は見出しが既知でないことを要求する。
func NotDuplicate() PagePredicate {
	return PagePredicate{
		Reason: model.RejectDuplicate,
		Keep: func(ev Evaluation) bool {
			return !ev.Index.Contains(ev.Page.Title)
		},
	}
}

// HasKeyword は見出しがカテゴリの必須キーワードのいずれかを含むことを要求する。
func HasKeyword() PagePredicate {
	return PagePredicate{
		Reason: model.RejectMissingKeyword,
		Keep: func(ev Evaluation) bool {
			return ev.Topic.MatchesTitle(ev.Page.Title)
		},
	}
}

// MinContentLength は本文が最低n文字（ルーン数）あることを要求する。
func MinContentLength(n int) PagePredicate {
	return PagePredicate{
		Reason: model.RejectContentTooShort,
		Keep: func(ev Evaluation) bool {
			return utf8.RuneCountInString(ev.Page.Content) >= n
		},
	}
}

// DefaultPagePredicates はページ取得後の判定を既定の順序で返す。
// 見出しの有無、重複、必須キーワード、本文長の順に評価する。
func DefaultPagePredicates(minContentLength int) []PagePredicate {
	return []PagePredicate{
		TitlePresent(),
		NotDuplicate(),
		HasKeyword(),
		MinContentLength(minContentLength),
	}
}

func firstCandidateRejection(preds []CandidatePredicate, c model.Candidate) (model.RejectReason, bool) {
	for _, p := range preds {
		if !p.Keep(c) {
			return p.Reason, true
		}
	}
	return "", false
}

func firstPageRejection(preds []PagePredicate, ev Evaluation) (model.RejectReason, bool) {
	for _, p := range preds {
		if !p.Keep(ev) {
			return p.Reason, true
		}
	}
	return "", false
}
