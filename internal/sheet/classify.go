package sheet

import (
	"strings"

	"mediaflow/internal/config"
)

// failureHints flag a status cell as a recorded failure even without the
// configured prefix. A leading hint outranks done values; an embedded one
// only applies when no done value matches.
var failureHints = []string{"失败", "错误", "failed", "error"}

// Classifier turns raw status cell text into a Marker.
type Classifier struct {
	done          []string
	negative      []string
	failurePrefix string
}

// Vocabulary holds the classifiers for both status columns.
type Vocabulary struct {
	Processed Classifier
	Video     Classifier
}

// NewVocabulary builds classifiers from the configured marker lists.
func NewVocabulary(m config.Markers) Vocabulary {
	negative := normalizeAll(m.NegativeValues)
	prefix := NormalizeHeader(m.FailurePrefix)
	return Vocabulary{
		Processed: Classifier{done: normalizeAll(m.ProcessedValues), negative: negative, failurePrefix: prefix},
		Video:     Classifier{done: normalizeAll(m.VideoDoneValues), negative: negative, failurePrefix: prefix},
	}
}

// DefaultVocabulary uses the built-in marker lists.
func DefaultVocabulary() Vocabulary {
	return NewVocabulary(config.Default().Sheet.Markers)
}

// IsZero reports whether no marker values were configured.
func (v Vocabulary) IsZero() bool {
	return len(v.Processed.done) == 0 && len(v.Video.done) == 0
}

// Status classifies a status cell. Empty, negative and unrecognized text is
// Absent. Text starting with a failure word is Errored, then text containing
// a done value is Present, then any remaining failure word marks it Errored.
func (c Classifier) Status(cell string) Marker {
	raw := strings.TrimSpace(cell)
	value := NormalizeHeader(raw)
	if value == "" {
		return Absent()
	}
	for _, neg := range c.negative {
		if value == neg {
			return Absent()
		}
	}
	if c.failurePrefix != "" && strings.HasPrefix(value, c.failurePrefix) {
		return Errored(failureReason(raw))
	}
	if hasHint(value, strings.HasPrefix) {
		return Errored(failureReason(raw))
	}
	for _, done := range c.done {
		if done != "" && strings.Contains(value, done) {
			return Present(raw)
		}
	}
	if hasHint(value, strings.Contains) {
		return Errored(failureReason(raw))
	}
	return Absent()
}

func hasHint(value string, match func(s, substr string) bool) bool {
	for _, hint := range failureHints {
		if match(value, hint) {
			return true
		}
	}
	return false
}

// Image classifies an artifact cell. Embedded images are referenced by file
// token; plain text is treated as a reference when non-empty.
func Image(cell Cell) Marker {
	if token := strings.TrimSpace(cell.FileToken); token != "" {
		return Present(token)
	}
	if text := strings.TrimSpace(cell.Text); text != "" {
		return Present(text)
	}
	return Absent()
}

func failureReason(raw string) string {
	for _, sep := range []string{":", "："} {
		if _, after, ok := strings.Cut(raw, sep); ok {
			if reason := strings.TrimSpace(after); reason != "" {
				return reason
			}
		}
	}
	return raw
}

func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if n := NormalizeHeader(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}
