package crawl

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// ParseList extracts notice rows from the index page. The parser is
// tolerant: rows that do not carry a numeric id or enough cells are
// skipped rather than failing the whole page. Relative detail links are
// resolved against base.
func ParseList(r io.Reader, base *url.URL) ([]Notice, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("crawl: parse html: %w", err)
	}

	var notices []Notice
	for _, row := range findAll(doc, "tr") {
		if n, ok := parseRow(row, base); ok {
			notices = append(notices, n)
		}
	}
	return notices, nil
}

// parseRow reads one table row: number, subject (with detail link),
// proposer category, committee.
func parseRow(row *html.Node, base *url.URL) (Notice, bool) {
	cells := findAll(row, "td")
	if len(cells) < 4 {
		return Notice{}, false
	}

	num, err := strconv.Atoi(strings.TrimSpace(text(cells[0])))
	if err != nil {
		return Notice{}, false
	}

	n := Notice{
		Num:              num,
		Subject:          strings.TrimSpace(text(cells[1])),
		ProposerCategory: strings.TrimSpace(text(cells[2])),
		Committee:        strings.TrimSpace(text(cells[3])),
	}
	if n.Subject == "" {
		return Notice{}, false
	}

	if a := findFirst(cells[1], "a"); a != nil {
		n.Link = resolveHref(attr(a, "href"), base)
	}
	return n, true
}

func resolveHref(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// findAll returns descendant element nodes with the given tag in document
// order, without descending into matches (keeps nested tables out).
func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// text concatenates all text nodes under n.
func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
