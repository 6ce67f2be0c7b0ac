package feed

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for the presentation layer. The zero value
// means "no error".
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindURLInvalid    ErrorKind = "UrlInvalid"
	KindDuplicateFeed ErrorKind = "DuplicateFeed"
	KindNetwork       ErrorKind = "NetworkError"
	KindParse         ErrorKind = "ParseError"
	KindUnknown       ErrorKind = "UnknownError"
)

func (k ErrorKind) Message() string {
	switch k {
	case KindNone:
		return ""
	case KindURLInvalid:
		return "Link must be a valid URL"
	case KindDuplicateFeed:
		return "RSS already exists"
	case KindNetwork:
		return "Network error"
	case KindParse:
		return "Resource does not contain valid RSS"
	default:
		return "Unknown error, try again"
	}
}

// Error is a classified failure produced by the fetch/parse pipeline or the
// store.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.URL != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.URL != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.URL)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind, so callers can write
// errors.Is(err, &feed.Error{Kind: feed.KindParse}).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

func newError(kind ErrorKind, rawURL string, err error) *Error {
	return &Error{Kind: kind, URL: rawURL, Err: err}
}

func NetworkError(rawURL string, err error) *Error {
	return newError(KindNetwork, rawURL, err)
}

func ParseError(rawURL string, err error) *Error {
	return newError(KindParse, rawURL, err)
}

func DuplicateFeedError(rawURL string) *Error {
	return newError(KindDuplicateFeed, rawURL, nil)
}

// KindOf classifies err. nil maps to KindNone and anything that is not an
// *Error maps to KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var classified *Error
	if errors.As(err, &classified) && classified.Kind != KindNone {
		return classified.Kind
	}
	return KindUnknown
}
