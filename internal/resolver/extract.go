package resolver

import (
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// extraction はDOMヒューリスティクスによる抽出結果。
type extraction struct {
	Title       string
	Content     string
	PublishedAt *time.Time
}

// removedElements は本文抽出前に取り除く要素。
var removedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Aside:    true,
	atom.Noscript: true,
}

// extractDOM は記事ページから見出し、本文、公開日時を取り出す。
//   - 見出し: classに "title-" を含むh1、なければ最初のh1
//   - 本文: classに "content-" を含むdiv、なければarticle
//   - 公開日時: 最初の <time datetime="...">
//
// 見つからない項目は空のまま返す。
func extractDOM(root *html.Node, loc *time.Location) extraction {
	stripElements(root)

	var ex extraction

	h1 := findFirst(root, func(n *html.Node) bool {
		return n.DataAtom == atom.H1 && classContains(n, "title-")
	})
	if h1 == nil {
		h1 = findFirst(root, func(n *html.Node) bool { return n.DataAtom == atom.H1 })
	}
	if h1 != nil {
		ex.Title = strings.Join(textSegments(h1), "")
	}

	body := findFirst(root, func(n *html.Node) bool {
		return n.DataAtom == atom.Div && classContains(n, "content-")
	})
	if body == nil {
		body = findFirst(root, func(n *html.Node) bool { return n.DataAtom == atom.Article })
	}
	if body != nil {
		ex.Content = strings.Join(textSegments(body), "\n")
	}

	timeNode := findFirst(root, func(n *html.Node) bool {
		return n.DataAtom == atom.Time && attr(n, "datetime") != ""
	})
	if timeNode != nil {
		if t, ok := parseTimestamp(attr(timeNode, "datetime"), loc); ok {
			ex.PublishedAt = &t
		}
	}

	return ex
}

// parseTimestamp はdatetime属性値を解釈し、アーカイブのタイムゾーンに変換する。
// タイムゾーン指定のない値はUTCとして扱う。
func parseTimestamp(v string, loc *time.Location) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

func stripElements(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && removedElements[c.DataAtom] {
			n.RemoveChild(c)
		} else {
			stripElements(c)
		}
		c = next
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

// textSegments は子孫のテキストノードを前後の空白を除いて順に返す。空のノードは含めない。
func textSegments(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				out = append(out, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func classContains(n *html.Node, fragment string) bool {
	for _, cls := range strings.Fields(attr(n, "class")) {
		if strings.Contains(cls, fragment) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
