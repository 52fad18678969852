// Package markdown extracts short notification text from comment bodies.
package markdown

import (
	"bytes"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// MaxSummaryRunes bounds the plain-text fallback.
const MaxSummaryRunes = 200

var (
	mdRenderer    goldmark.Markdown
	htmlSanitizer *bluemonday.Policy
)

func init() {
	mdRenderer = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
	)

	htmlSanitizer = bluemonday.StrictPolicy()
}

// Summary returns the text of the first link in the rendered body. CI bots put
// the build name and number there. Without a link it falls back to the body's
// plain text, and if rendering fails for any reason it returns the body as is.
func Summary(body string) (summary string) {
	defer func() {
		if r := recover(); r != nil {
			summary = body
		}
	}()

	if s, ok := FirstLinkText(body); ok {
		return s
	}
	if s := PlainText(body); s != "" {
		return s
	}
	return body
}

// FirstLinkText returns the visible text of the first inline link or autolink.
func FirstLinkText(body string) (string, bool) {
	source := []byte(body)
	doc := mdRenderer.Parser().Parse(text.NewReader(source))

	var found string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch link := n.(type) {
		case *ast.Link:
			found = string(link.Text(source))
			if found == "" {
				found = string(link.Destination)
			}
			return ast.WalkStop, nil
		case *ast.AutoLink:
			found = string(link.Label(source))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	found = strings.TrimSpace(found)
	return found, found != ""
}

// PlainText renders the body and strips all markup, collapsing whitespace and
// truncating to MaxSummaryRunes.
func PlainText(body string) string {
	var buf bytes.Buffer
	rendered := body
	if err := mdRenderer.Convert([]byte(body), &buf); err == nil {
		rendered = buf.String()
	}

	plain := html.UnescapeString(htmlSanitizer.Sanitize(rendered))
	plain = strings.Join(strings.Fields(plain), " ")
	return truncate(plain, MaxSummaryRunes)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
