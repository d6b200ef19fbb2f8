package ingest

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/hitoshi/newsarchive/internal/model"
)

// WriteSummary は実行結果を表形式で出力する。
// カテゴリ名は全角文字を含むため、表示幅で桁を揃える。
func WriteSummary(w io.Writer, report *model.RunReport) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "run %s  lookback=%dd  queries=%d  candidates=%d  accepted=%d\n",
		report.RunID, report.LookbackDays, report.QueriesIssued, report.CandidatesSeen, report.AcceptedCount())

	if len(report.Categories) > 0 {
		header := []string{"category", "candidates", "accepted", "rejected", "error"}
		rows := [][]string{header}
		for _, c := range report.Categories {
			rows = append(rows, []string{
				c.Name,
				fmt.Sprint(c.Candidates),
				fmt.Sprint(c.Accepted),
				formatRejections(c.Rejected),
				c.QueryError,
			})
		}
		writeTable(&sb, rows)
	}

	if len(report.Accepted) > 0 {
		writeAccepted(&sb, report)
	}

	fmt.Fprintf(&sb, "persist: %s", report.Persist)
	if report.BackupPath != "" {
		fmt.Fprintf(&sb, "  backup=%s", report.BackupPath)
	}
	if report.PersistError != "" {
		fmt.Fprintf(&sb, "  error=%s", report.PersistError)
	}
	fmt.Fprintf(&sb, "  archive_total=%d\n", report.ArchiveTotal)

	_, err := io.WriteString(w, sb.String())
	return err
}

// summaryTitleWidth は新規記事一覧でタイトルを切り詰める表示幅。
const summaryTitleWidth = 50

// writeAccepted はソース別の採用数と、今回追加した記事の一覧を出力する。
func writeAccepted(sb *strings.Builder, report *model.RunReport) {
	counts := report.AcceptedBySource()
	sources := make([]string, 0, len(counts))
	for src := range counts {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	parts := make([]string, 0, len(sources))
	for _, src := range sources {
		parts = append(parts, fmt.Sprintf("%s=%d", src, counts[src]))
	}
	fmt.Fprintf(sb, "sources: %s\n", strings.Join(parts, ", "))

	rows := [][]string{{"date", "time", "title", "source"}}
	for _, rec := range report.Accepted {
		rows = append(rows, []string{
			rec.Date,
			rec.Time,
			runewidth.Truncate(rec.Title, summaryTitleWidth, "..."),
			rec.Source,
		})
	}
	writeTable(sb, rows)
}

func formatRejections(m map[model.RejectReason]int) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[model.RejectReason(k)]))
	}
	return strings.Join(parts, " ")
}

func writeTable(sb *strings.Builder, rows [][]string) {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			if i == len(row)-1 {
				sb.WriteString(cell)
				continue
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		sb.WriteString("\n")
	}
}
