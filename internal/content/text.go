// Package content normalises markup found in feed documents.
package content

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PlainText returns the visible text of an HTML fragment with runs of
// whitespace collapsed to single spaces. Entities are decoded.
func PlainText(fragment string) string {
	if !containsMarkup(fragment) {
		return collapseSpace(fragment)
	}
	root := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), root)
	if err != nil {
		return collapseSpace(fragment)
	}
	var b strings.Builder
	for _, node := range nodes {
		collectText(node, &b)
	}
	return collapseSpace(b.String())
}

func collectText(node *html.Node, b *strings.Builder) {
	switch node.Type {
	case html.TextNode:
		b.WriteString(node.Data)
		return
	case html.ElementNode:
		if skipElement(node.DataAtom) {
			return
		}
		if breaksText(node.DataAtom) {
			b.WriteByte(' ')
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, b)
	}
	if node.Type == html.ElementNode && breaksText(node.DataAtom) {
		b.WriteByte(' ')
	}
}

func skipElement(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Noscript, atom.Template:
		return true
	}
	return false
}

func breaksText(a atom.Atom) bool {
	switch a {
	case atom.Br, atom.P, atom.Div, atom.Li, atom.Ul, atom.Ol, atom.Tr, atom.Td, atom.Th,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Blockquote, atom.Pre:
		return true
	}
	return false
}

func containsMarkup(text string) bool {
	return strings.ContainsAny(text, "<&")
}

func collapseSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
