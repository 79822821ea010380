// Package guestbook implements entry normalization, validation, and the
// service layer that mediates between the HTTP surface and storage.
package guestbook

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/internal/uuidv7"
)

// Message length bounds in characters, applied after normalization.
const (
	MinMessageLen = 2
	MaxMessageLen = 2000
)

// Star rating bounds. Out-of-range and unparseable ratings collapse to
// DefaultStars or the nearest bound.
const (
	MinStars     = 1
	MaxStars     = 5
	DefaultStars = 5
)

// ValidationError describes a rejected submission. The message is surfaced
// verbatim to API clients.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

func invalid(detail string) error {
	return &ValidationError{Detail: detail}
}

// NormalizeName trims surrounding whitespace.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// NormalizeMessage trims surrounding whitespace and converts CRLF and bare
// CR line endings to LF so character counts are stable across clients.
func NormalizeMessage(message string) string {
	return lineBreaks.Replace(strings.TrimSpace(message))
}

// NormalizeStars coerces an arbitrary JSON value to a rating in
// [MinStars, MaxStars]. Absent or unparseable values yield DefaultStars;
// fractions truncate and out-of-range numbers clamp to the nearest bound.
func NormalizeStars(raw any) int {
	var n float64
	switch v := raw.(type) {
	case nil:
		return DefaultStars
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return DefaultStars
		}
		n = parsed
	default:
		return DefaultStars
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return DefaultStars
	}
	stars := int(math.Trunc(n))
	if stars < MinStars {
		return MinStars
	}
	if stars > MaxStars {
		return MaxStars
	}
	return stars
}

// normalizeTS coerces a JSON timestamp to epoch milliseconds. Only finite
// numbers are accepted; anything else yields fallback.
func normalizeTS(raw any, fallback int64) int64 {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	default:
		return fallback
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return fallback
	}
	return int64(n)
}

// asString returns raw when it is a JSON string, otherwise "".
func asString(raw any) string {
	s, _ := raw.(string)
	return s
}

// validateFields checks the normalized name and message, returning a
// ValidationError describing the first failure.
func validateFields(name, message string) error {
	if name == "" {
		return invalid("Name is required.")
	}
	length := utf8.RuneCountInString(message)
	if length < MinMessageLen {
		return invalid("Message must be at least 2 characters.")
	}
	if length > MaxMessageLen {
		return invalid("Message must be 2000 characters or fewer.")
	}
	return nil
}

// ValidateSubmission normalizes and checks a name/message pair the same way
// entry creation does, so callers can reject bad input before a round trip.
func ValidateSubmission(name, message string) error {
	return validateFields(NormalizeName(name), NormalizeMessage(message))
}

// NewEntry builds a canonical entry from a create request, assigning the
// identifier and timestamp. It returns a ValidationError when the request
// does not satisfy the field constraints.
func NewEntry(req api.CreateRequest, nowMillis int64) (api.Entry, error) {
	name := NormalizeName(req.Name)
	message := NormalizeMessage(req.Message)
	if err := validateFields(name, message); err != nil {
		return api.Entry{}, err
	}
	return api.Entry{
		ID:      uuidv7.NewString(),
		Name:    name,
		Message: message,
		Rule:    strings.TrimSpace(req.Rule),
		Stars:   NormalizeStars(req.Stars),
		TS:      nowMillis,
	}, nil
}

// SanitizeImported normalizes one raw import item. The second return value
// is false when the item fails validation and must be dropped.
func SanitizeImported(item api.ImportItem, nowMillis int64) (api.Entry, bool) {
	name := NormalizeName(asString(item.Name))
	message := NormalizeMessage(asString(item.Message))
	if err := validateFields(name, message); err != nil {
		return api.Entry{}, false
	}
	id := asString(item.ID)
	if id == "" {
		id = uuidv7.NewString()
	}
	return api.Entry{
		ID:      id,
		Name:    name,
		Message: message,
		Rule:    strings.TrimSpace(asString(item.Rule)),
		Stars:   NormalizeStars(item.Stars),
		TS:      normalizeTS(item.TS, nowMillis),
	}, true
}
