// Package mdtext flattens markdown answers into plain text for terminals.
package mdtext

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ToPlain drops markdown markup, keeping block structure: blocks are
// separated by a blank line and list items keep a "- " or "N. " marker.
func ToPlain(markdown string) string {
	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if b := renderBlock(n, src, ""); b != "" {
			blocks = append(blocks, b)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func renderBlock(n ast.Node, src []byte, indent string) string {
	switch node := n.(type) {
	case *ast.List:
		return renderList(node, src, indent)
	case *ast.FencedCodeBlock:
		return codeLines(node, src)
	case *ast.CodeBlock:
		return codeLines(node, src)
	case *ast.ThematicBreak:
		return "---"
	default:
		return inlineText(n, src)
	}
}

func renderList(list *ast.List, src []byte, indent string) string {
	var lines []string
	num := list.Start
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "- "
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}
		var parts []string
		var nested []string
		for child := item.FirstChild(); child != nil; child = child.NextSibling() {
			if sub, ok := child.(*ast.List); ok {
				nested = append(nested, renderList(sub, src, indent+"  "))
				continue
			}
			if t := renderBlock(child, src, indent+"  "); t != "" {
				parts = append(parts, t)
			}
		}
		lines = append(lines, indent+marker+strings.Join(parts, " "))
		lines = append(lines, nested...)
	}
	return strings.Join(lines, "\n")
}

func codeLines(n ast.Node, src []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		sb.Write(line.Value(src))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.HardLineBreak() {
				sb.WriteString("\n")
			} else if t.SoftLineBreak() {
				sb.WriteString(" ")
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.AutoLink:
			sb.Write(t.URL(src))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
