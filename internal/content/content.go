// Package content sanitizes and renders user-supplied message text before
// it is stored in history or fanned out to other sockets.
package content

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	policy = bluemonday.UGCPolicy()
	md     = goldmark.New()
)

// Sanitize removes unsafe HTML from the input string using bluemonday's UGC
// policy, which keeps safe formatting tags such as <b>.
// It is applied to every textMessage before it is stored, so history and
// fan-out always carry already-safe content.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// RenderPreview renders sanitized Markdown source to sanitized HTML for
// clients that want a rich preview. Failure to render (malformed input)
// degrades to the empty string rather than failing the send.
func RenderPreview(sanitized string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(sanitized), &buf); err != nil {
		return ""
	}
	return policy.Sanitize(buf.String())
}
