package lookup

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// notMatchedMarker is the text of the error paragraph the lookup page shows
// for an identifier it does not know.
const notMatchedMarker = "doesn't matched"

// Extraction describes where the payload sits in the response page.
type Extraction struct {
	// Column is the header text of the payload column.
	Column string
	// Digits is the exact number of digits a valid payload has.
	Digits int
}

// Extract finds the payload for identifier in a lookup response.
// It returns found=false, with no error, when the page reports no match or
// the expected table or row is missing.
func (e Extraction) Extract(body io.Reader, identifier string) (payload string, found bool, err error) {
	doc, err := html.Parse(body)
	if err != nil {
		return "", false, fmt.Errorf("parse lookup response: %w", err)
	}

	if p := findFirst(doc, func(n *html.Node) bool {
		return isElement(n, "p") && strings.Contains(textOf(n), notMatchedMarker)
	}); p != nil {
		return "", false, nil
	}

	section := findFirst(doc, func(n *html.Node) bool {
		return isElement(n, "section") && attr(n, "id") == "main-container"
	})
	if section == nil {
		return "", false, nil
	}
	table := findFirst(section, func(n *html.Node) bool {
		return isElement(n, "table") && hasClass(n, "table")
	})
	if table == nil {
		return "", false, nil
	}

	rows := findAll(table, func(n *html.Node) bool { return isElement(n, "tr") })
	if len(rows) == 0 {
		return "", false, nil
	}

	column := -1
	for i, th := range findAll(rows[0], func(n *html.Node) bool { return isElement(n, "th") }) {
		if strings.TrimSpace(textOf(th)) == e.Column {
			column = i
			break
		}
	}
	if column < 0 {
		return "", false, nil
	}

	for _, tr := range rows[1:] {
		cells := findAll(tr, func(n *html.Node) bool { return isElement(n, "td") })
		if len(cells) == 0 || column >= len(cells) {
			continue
		}
		if !strings.Contains(strings.TrimSpace(textOf(cells[0])), identifier) {
			continue
		}
		digits := onlyDigits(textOf(cells[column]))
		if len(digits) == e.Digits {
			return digits, true, nil
		}
	}
	return "", false, nil
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
