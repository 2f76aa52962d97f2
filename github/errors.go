package github

import (
	"fmt"
	"unicode/utf8"
)

const excerptLen = 200

// NormalizationError reports a payload that was dropped.
type NormalizationError struct {
	Tag     string
	Excerpt string
	Err     error
}

// newNormalizationError keeps at most excerptLen bytes of body, cut on a
// rune boundary.
func newNormalizationError(tag string, body []byte, err error) *NormalizationError {
	excerpt := string(body)
	if len(body) > excerptLen {
		cut := excerptLen
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		excerpt = string(body[:cut]) + "..."
	}
	return &NormalizationError{Tag: tag, Excerpt: excerpt, Err: err}
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalizing %s payload: %v (payload: %s)", e.Tag, e.Err, e.Excerpt)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}
