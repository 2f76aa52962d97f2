package event

import "strings"

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Escape makes text safe to embed in Slack markup.
func Escape(text string) string {
	return escaper.Replace(text)
}

// FirstLine returns text up to the first newline.
func FirstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return line
}
