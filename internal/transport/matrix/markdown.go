// ABOUTME: Markdown to HTML rendering for Matrix replies
// ABOUTME: Agent replies use markdown lists and links; Matrix clients display formatted_body

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// renderMarkdown converts text to HTML. It reports false when rendering
// fails or the text has no formatting beyond a plain paragraph.
func renderMarkdown(text string) (string, bool) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", false
	}
	out := strings.TrimSpace(buf.String())
	if out == "<p>"+text+"</p>" {
		return "", false
	}
	return out, true
}
