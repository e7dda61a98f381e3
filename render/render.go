// Package render converts transcript markdown to sanitized HTML for
// display layers. Model output is untrusted input; everything goes through
// a UGC sanitization policy after markdown conversion.
package render

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/convoflow/convoflow/types"
)

// Renderer converts markdown message bodies to sanitized HTML.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New creates a renderer with GFM extensions and the standard UGC policy.
func New() *Renderer {
	return &Renderer{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: bluemonday.UGCPolicy(),
	}
}

// HTML converts one markdown string to sanitized HTML.
func (r *Renderer) HTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

// Message renders a message body. Tool-result messages render their outputs
// as escaped preformatted blocks instead of interpreting them as markdown.
func (r *Renderer) Message(msg *types.Message) (string, error) {
	if msg.Role == types.RoleTool {
		var b strings.Builder
		for _, call := range msg.ToolCalls {
			b.WriteString("<pre><code>")
			b.WriteString(html.EscapeString(call.Output))
			b.WriteString("</code></pre>\n")
		}
		return b.String(), nil
	}
	return r.HTML(msg.Content)
}

// Summary renders a session's compaction summary, or empty when none
// exists.
func (r *Renderer) Summary(sess *types.Session) (string, error) {
	_, comp := sess.Snapshot()
	if !comp.HasSummary() {
		return "", nil
	}
	return r.HTML(comp.Summary)
}
