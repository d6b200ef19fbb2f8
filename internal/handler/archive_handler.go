package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/newsarchive/internal/middleware"
	"github.com/hitoshi/newsarchive/internal/model"
)

const (
	// defaultReportsPerPage は記事一覧の1回の取得件数（デフォルト）。
	defaultReportsPerPage = 50
	// maxReportsPerPage は記事一覧の1回の取得件数の上限。
	maxReportsPerPage = 200
)

// ArchiveReader はアーカイブの読み込みインターフェース。
type ArchiveReader interface {
	Read(ctx context.Context) (*model.Archive, model.VersionToken, error)
}

// ArchiveHandler はアーカイブ参照用のHTTPハンドラー。書き込みは行わない。
type ArchiveHandler struct {
	reader ArchiveReader
	logger *slog.Logger
}

// NewArchiveHandler はArchiveHandlerを生成する。
func NewArchiveHandler(reader ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, logger: logger}
}

// --- レスポンス型 ---

// sourceCount はソースごとの記事数。
type sourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// archiveSummaryResponse はアーカイブ概要のレスポンス。
type archiveSummaryResponse struct {
	LastUpdated  string        `json:"last_updated"`
	TotalReports int           `json:"total_reports"`
	Latest       string        `json:"latest,omitempty"`
	Sources      []sourceCount `json:"sources"`
}

// reportListResponse は記事一覧のレスポンス。
type reportListResponse struct {
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
	Reports []model.Record `json:"reports"`
}

// reportFilter は記事一覧の絞り込み条件。
type reportFilter struct {
	source string
	date   string
	query  string
	limit  int
	offset int
}

// Summary はアーカイブの概要を返す。
// GET /api/archive
func (h *ArchiveHandler) Summary(w http.ResponseWriter, r *http.Request) {
	archive, token, ok := h.read(w, r)
	if !ok {
		return
	}

	counts := make(map[string]int)
	for _, rep := range archive.Reports {
		counts[rep.Source]++
	}
	sources := make([]sourceCount, 0, len(counts))
	for s, n := range counts {
		sources = append(sources, sourceCount{Source: s, Count: n})
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Count != sources[j].Count {
			return sources[i].Count > sources[j].Count
		}
		return sources[i].Source < sources[j].Source
	})

	resp := archiveSummaryResponse{
		LastUpdated:  archive.LastUpdated,
		TotalReports: len(archive.Reports),
		Sources:      sources,
	}
	if len(archive.Reports) > 0 {
		resp.Latest = archive.Reports[0].Date + " " + archive.Reports[0].Time
	}

	writeJSON(w, r, token, resp)
}

// ListReports は記事一覧を新しい順に返す。
// GET /api/reports?source=xxx&date=YYYY-MM-DD&q=xxx&limit=50&offset=0
func (h *ArchiveHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	f, apiErr := parseReportFilter(r)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	archive, token, ok := h.read(w, r)
	if !ok {
		return
	}

	matched := make([]model.Record, 0)
	for _, rep := range archive.Reports {
		if f.matches(rep) {
			matched = append(matched, rep)
		}
	}

	resp := reportListResponse{
		Total:   len(matched),
		Limit:   f.limit,
		Offset:  f.offset,
		Reports: []model.Record{},
	}
	if f.offset < len(matched) {
		end := f.offset + f.limit
		if end > len(matched) {
			end = len(matched)
		}
		resp.Reports = matched[f.offset:end]
		resp.HasMore = end < len(matched)
	}

	writeJSON(w, r, token, resp)
}

// read はアーカイブを読み込む。失敗時はエラーレスポンスを書き込みfalseを返す。
func (h *ArchiveHandler) read(w http.ResponseWriter, r *http.Request) (*model.Archive, model.VersionToken, bool) {
	archive, token, err := h.reader.Read(r.Context())
	if err != nil {
		if errors.Is(err, model.ErrArchiveNotFound) {
			middleware.WriteAPIError(w, model.NewArchiveNotFoundError())
			return nil, "", false
		}
		h.logger.Error("アーカイブの読み込みに失敗しました",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteAPIError(w, model.NewArchiveReadError())
		return nil, "", false
	}
	return archive, token, true
}

func parseReportFilter(r *http.Request) (reportFilter, *model.APIError) {
	q := r.URL.Query()
	f := reportFilter{
		source: strings.TrimSpace(q.Get("source")),
		date:   strings.TrimSpace(q.Get("date")),
		query:  strings.ToLower(strings.TrimSpace(q.Get("q"))),
		limit:  defaultReportsPerPage,
	}

	if f.date != "" {
		if _, err := time.Parse(model.DateLayout, f.date); err != nil {
			return f, model.NewInvalidQueryError("date", "YYYY-MM-DD形式で指定してください")
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, model.NewInvalidQueryError("limit", "正の整数で指定してください")
		}
		if n > maxReportsPerPage {
			n = maxReportsPerPage
		}
		f.limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, model.NewInvalidQueryError("offset", "0以上の整数で指定してください")
		}
		f.offset = n
	}
	return f, nil
}

func (f reportFilter) matches(rep model.Record) bool {
	if f.source != "" && rep.Source != f.source {
		return false
	}
	if f.date != "" && rep.Date != f.date {
		return false
	}
	if f.query != "" && !strings.Contains(strings.ToLower(rep.Title), f.query) {
		return false
	}
	return true
}

// writeJSON はバージョントークンをETagとしてJSONレスポンスを書き込む。
// If-None-MatchがETagと一致する場合は304を返す。
func writeJSON(w http.ResponseWriter, r *http.Request, token model.VersionToken, body interface{}) {
	if etag := entityTag(token); etag != "" {
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "no-cache")
		if etagMatches(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(body)
}

// entityTag はバージョントークンを強いETagに変換する。S3のETagは引用符付きのまま使う。
func entityTag(token model.VersionToken) string {
	t := string(token)
	if t == "" {
		return ""
	}
	if strings.HasPrefix(t, `"`) && strings.HasSuffix(t, `"`) && len(t) >= 2 {
		return t
	}
	return `"` + t + `"`
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		c := strings.TrimSpace(candidate)
		c = strings.TrimPrefix(c, "W/")
		if c == "*" || c == etag {
			return true
		}
	}
	return false
}
