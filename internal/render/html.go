package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// Raw HTML in model output is dropped: goldmark omits it unless the unsafe
// renderer option is set.
var markdown = goldmark.New()

// MarkdownHTML converts a markdown body to an HTML fragment.
func MarkdownHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render: markdown to html: %w", err)
	}
	return buf.String(), nil
}
