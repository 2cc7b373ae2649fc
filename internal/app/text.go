package app

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// plainText reduces user input to plain text: markup is dropped (script and
// style bodies included), entities are decoded, runs of blank space inside a
// line collapse to one space and paragraph breaks survive as single newlines.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return normalizeLines(s)
	}
	nodes, err := html.ParseFragment(strings.NewReader(s), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		// Unparseable input is dropped rather than stored with its markup.
		return ""
	}
	var buf strings.Builder
	for _, n := range nodes {
		extractText(&buf, n)
	}
	return normalizeLines(buf.String())
}

func extractText(buf *strings.Builder, node *html.Node) {
	switch node.Type {
	case html.TextNode:
		buf.WriteString(node.Data)
	case html.ElementNode:
		switch node.Data {
		case "script", "style":
			return
		case "br":
			buf.WriteString("\n")
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		extractText(buf, child)
	}
	if node.Type == html.ElementNode {
		switch node.Data {
		case "p", "div", "li", "blockquote", "h1", "h2", "h3", "h4", "h5", "h6":
			buf.WriteString("\n")
		}
	}
}

func normalizeLines(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
