// Package phone turns user-entered mobile numbers into the 9-digit local
// subscriber form the payment gateway expects.
package phone

import (
	"fmt"
	"strings"
)

const (
	// DefaultCountryCode is the dialling code stripped from international input.
	DefaultCountryCode = "254"
	// SubscriberLength is the number of digits in a canonical number.
	SubscriberLength = 9

	trunkPrefix = "0"
)

// DefaultPrefixes are the leading digits accepted for canonical numbers.
var DefaultPrefixes = []string{"7", "1"}

// Reason tags why a raw value could not be normalized.
type Reason string

const (
	EmptyInput         Reason = "empty_input"
	BadLength          Reason = "bad_length"
	UnrecognizedFormat Reason = "unrecognized_format"
	InvalidPrefix      Reason = "invalid_prefix"
)

// RejectionError is returned by Normalize for every input it refuses.
type RejectionError struct {
	Reason Reason
	Input  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("phone rejected: %s", e.Reason)
}

// Message is the user-facing explanation for the rejection.
func (e *RejectionError) Message() string {
	switch e.Reason {
	case EmptyInput:
		return "Please enter a phone number"
	case BadLength:
		return "Phone number must have 9 digits after the country or trunk prefix"
	case InvalidPrefix:
		return "Phone number must start with a supported network prefix"
	default:
		return "Please enter a valid phone number (e.g. 0712345678)"
	}
}

// Normalizer validates and canonicalizes phone numbers. It holds no
// per-call state and is safe for concurrent use.
type Normalizer struct {
	countryCode string
	prefixes    map[byte]struct{}
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithCountryCode overrides the dialling code (without '+').
func WithCountryCode(code string) Option {
	return func(n *Normalizer) {
		code = strings.TrimPrefix(strings.TrimSpace(code), "+")
		if code != "" {
			n.countryCode = code
		}
	}
}

// WithPrefixes overrides the accepted leading digits. Entries that are not a
// single digit are ignored; an empty result keeps the defaults.
func WithPrefixes(prefixes ...string) Option {
	return func(n *Normalizer) {
		set := make(map[byte]struct{}, len(prefixes))
		for _, p := range prefixes {
			p = strings.TrimSpace(p)
			if len(p) == 1 && isDigit(p[0]) {
				set[p[0]] = struct{}{}
			}
		}
		if len(set) > 0 {
			n.prefixes = set
		}
	}
}

// New builds a Normalizer with the default country code and prefixes.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{countryCode: DefaultCountryCode}
	WithPrefixes(DefaultPrefixes...)(n)
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize returns the 9-digit canonical number for raw or a
// *RejectionError. Rules are applied in order and the first match wins.
func (n *Normalizer) Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "undefined" || trimmed == "null" {
		return "", &RejectionError{Reason: EmptyInput, Input: raw}
	}

	cleaned := clean(trimmed)
	if cleaned == "" || cleaned == "+" {
		return "", &RejectionError{Reason: EmptyInput, Input: raw}
	}

	var candidate string
	switch {
	case strings.HasPrefix(cleaned, "+"+n.countryCode):
		candidate = strings.TrimPrefix(cleaned, "+"+n.countryCode)
	case strings.HasPrefix(cleaned, n.countryCode):
		candidate = strings.TrimPrefix(cleaned, n.countryCode)
	case strings.HasPrefix(cleaned, trunkPrefix):
		candidate = strings.TrimPrefix(cleaned, trunkPrefix)
	case len(cleaned) == SubscriberLength && !strings.HasPrefix(cleaned, "+"):
		candidate = cleaned
	default:
		return "", &RejectionError{Reason: UnrecognizedFormat, Input: raw}
	}

	if len(candidate) != SubscriberLength {
		return "", &RejectionError{Reason: BadLength, Input: raw}
	}
	if _, ok := n.prefixes[candidate[0]]; !ok {
		return "", &RejectionError{Reason: InvalidPrefix, Input: raw}
	}

	return candidate, nil
}

// E164 formats a canonical number as +<country><subscriber>.
func (n *Normalizer) E164(canonical string) string {
	return "+" + n.countryCode + canonical
}

// Mask hides all but the last three digits, for logging.
func Mask(number string) string {
	if len(number) <= 3 {
		return strings.Repeat("*", len(number))
	}
	return strings.Repeat("*", len(number)-3) + number[len(number)-3:]
}

// clean keeps digits and a '+' that precedes every digit.
func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isDigit(c):
			b.WriteByte(c)
		case c == '+' && b.Len() == 0:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
