package source

import (
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// loadMarkdown keeps headings as their own paragraphs so the summarizer
// still sees the document's structure. The first h1 becomes the title.
func loadMarkdown(r io.Reader) (Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return Document{}, err
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var out Document
	var paragraphs []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		t := blockText(n, src)
		if t == "" {
			continue
		}
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 && out.Title == "" {
			out.Title = t
		}
		paragraphs = append(paragraphs, t)
	}
	out.Text = joinParagraphs(paragraphs)
	return out, nil
}

// blockText gets the text content of a goldmark block node. Nested blocks
// such as list items end up on their own lines.
func blockText(n ast.Node, src []byte) string {
	switch n.(type) {
	case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
		var buf strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
		return strings.TrimSpace(buf.String())
	case *ast.ThematicBreak:
		return ""
	}

	var buf strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Type() == ast.TypeBlock {
			if t := blockText(c, src); t != "" {
				if buf.Len() > 0 {
					buf.WriteByte('\n')
				}
				buf.WriteString(t)
			}
			continue
		}
		inlineText(&buf, c, src)
	}
	return strings.TrimSpace(buf.String())
}

func inlineText(buf *strings.Builder, n ast.Node, src []byte) {
	switch v := n.(type) {
	case *ast.Text:
		buf.Write(v.Segment.Value(src))
		if v.HardLineBreak() || v.SoftLineBreak() {
			buf.WriteByte('\n')
		}
		return
	case *ast.String:
		buf.Write(v.Value)
		return
	case *ast.AutoLink:
		buf.Write(v.URL(src))
		return
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		inlineText(buf, c, src)
	}
}
