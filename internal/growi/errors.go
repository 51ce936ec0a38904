package growi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"
)

// Kind classifies every failure surfaced by the client.
type Kind int

// Error kinds.
const (
	KindOther Kind = iota
	KindSettingsUndefined
	KindWikiURLInvalid
	KindAPITokenInvalid
	KindPageNotFound
	KindPageExists
	KindPageMovedToTrash
	KindContentIsEmpty
)

func (k Kind) String() string {
	switch k {
	case KindSettingsUndefined:
		return "SettingsUndefined"
	case KindWikiURLInvalid:
		return "WikiUrlInvalid"
	case KindAPITokenInvalid:
		return "ApiTokenInvalid"
	case KindPageNotFound:
		return "PageNotFound"
	case KindPageExists:
		return "PageExists"
	case KindPageMovedToTrash:
		return "PageMovedToTrash"
	case KindContentIsEmpty:
		return "ContentIsEmpty"
	default:
		return "Other"
	}
}

// Error is the single failure type returned by the client. Its message is meant to be
// shown to the user verbatim.
type Error struct {
	Kind     Kind
	Path     string
	Settings []string
	Message  string

	cause error
}

// Sentinels for errors.Is. Matching compares kinds only.
var (
	ErrSettingsUndefined = &Error{Kind: KindSettingsUndefined}
	ErrWikiURLInvalid    = &Error{Kind: KindWikiURLInvalid}
	ErrAPITokenInvalid   = &Error{Kind: KindAPITokenInvalid}
	ErrPageNotFound      = &Error{Kind: KindPageNotFound}
	ErrPageExists        = &Error{Kind: KindPageExists}
	ErrPageMovedToTrash  = &Error{Kind: KindPageMovedToTrash}
	ErrContentIsEmpty    = &Error{Kind: KindContentIsEmpty}
	ErrOther             = &Error{Kind: KindOther}
)

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}

// Unwrap exposes the raw failure that was translated, when there was one.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of a client error, or KindOther for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// SettingsUndefined reports the settings that must be configured before calling the wiki.
func SettingsUndefined(names ...string) *Error {
	if len(names) == 0 {
		return &Error{Kind: KindSettingsUndefined, Message: "some settings are not defined"}
	}
	return &Error{
		Kind:     KindSettingsUndefined,
		Settings: names,
		Message:  strings.Join(names, ", ") + " not defined",
	}
}

// WikiURLInvalid reports an unreachable or wrong wiki URL.
func WikiURLInvalid() *Error {
	return &Error{Kind: KindWikiURLInvalid, Message: "invalid wiki URL"}
}

// APITokenInvalid reports a rejected access token.
func APITokenInvalid() *Error {
	return &Error{Kind: KindAPITokenInvalid, Message: "invalid API token"}
}

// PageNotFound reports a missing page. The path is optional.
func PageNotFound(path string) *Error {
	if path == "" {
		return &Error{Kind: KindPageNotFound, Message: "page not found"}
	}
	return &Error{Kind: KindPageNotFound, Path: path, Message: path + " not found"}
}

// PageExists reports a page that is already present. The path is optional.
func PageExists(path string) *Error {
	if path == "" {
		return &Error{Kind: KindPageExists, Message: "page already exists"}
	}
	return &Error{Kind: KindPageExists, Path: path, Message: path + " already exists"}
}

// PageMovedToTrash reports a page that now lives under /trash.
func PageMovedToTrash(path string) *Error {
	return &Error{
		Kind:    KindPageMovedToTrash,
		Path:    path,
		Message: fmt.Sprintf("%s has been moved to /trash%s", path, path),
	}
}

// ContentIsEmpty reports an attempt to save an empty page body.
func ContentIsEmpty() *Error {
	return &Error{Kind: KindContentIsEmpty, Message: "page content is empty"}
}

// Other carries an unrecognised failure with the raw server message.
func Other(message string) *Error {
	return &Error{Kind: KindOther, Message: message}
}

// errorPageExists is the application error code returned when creating a duplicate page.
const errorPageExists = "page_exists"

// statusError is a non-accepted HTTP status returned by the wiki.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("%d %s: %s", e.code, http.StatusText(e.code), e.body)
	}
	return fmt.Sprintf("%d %s", e.code, http.StatusText(e.code))
}

// appError is an {ok:false, error} payload or an error code from the v3 API.
type appError string

func (e appError) Error() string {
	return string(e)
}

// translate funnels every raw failure into exactly one taxonomy member. path is the page
// the call was about and may be empty.
func translate(err error, path string) *Error {
	if err == nil {
		return nil
	}

	var translated *Error
	if errors.As(err, &translated) {
		return translated
	}

	wrap := func(e *Error) *Error {
		e.cause = err
		return e
	}

	var app appError
	if errors.As(err, &app) {
		message := string(app)
		if notFound, ok := pageNotFoundPath(message); ok {
			if notFound == "" {
				notFound = path
			}
			return wrap(PageNotFound(notFound))
		}
		if message == errorPageExists {
			return wrap(PageExists(path))
		}
		return wrap(Other(message))
	}

	if isConnectivityFailure(err) {
		return wrap(WikiURLInvalid())
	}

	var status *statusError
	if errors.As(err, &status) {
		switch status.code {
		case http.StatusBadRequest, http.StatusNotFound:
			return wrap(WikiURLInvalid())
		case http.StatusForbidden:
			return wrap(APITokenInvalid())
		}
		return wrap(Other(status.Error()))
	}

	return wrap(Other(err.Error()))
}

var pageNotFoundPattern = regexp.MustCompile(`Page '(.*?)' is not found or forbidden`)

// pageNotFoundPath extracts the page path from the wiki's not-found message, which reads
// "Error: Page '<path>' is not found or forbidden". ok is false when the message has another
// shape.
func pageNotFoundPath(message string) (path string, ok bool) {
	match := pageNotFoundPattern.FindStringSubmatch(message)
	if match == nil {
		return "", false
	}
	return match[1], true
}

func isConnectivityFailure(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
