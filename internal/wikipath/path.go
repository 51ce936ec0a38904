// Package wikipath converts between virtual file locators and canonical wiki page paths.
package wikipath

import (
	"net/url"
	"path"
	"strings"
)

const (
	// Scheme identifies locators served by the page file provider.
	Scheme = "growi"
	// Ext is the extension appended to every page locator.
	Ext = "growi"
	// Root is the canonical path of the wiki root page.
	Root = "/"
)

const forbiddenCharacters = "#%$?+^*"

// Normalize trims the path, enforces a single leading slash, drops the trailing slash and
// collapses redundant separators. The empty string normalizes to Root.
func Normalize(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Validate reports whether the user supplied path can be sent to the wiki. The message is
// empty when the path is valid.
func Validate(p string) (bool, string) {
	if p == "" {
		return false, "a page path is required"
	}
	if strings.Contains(p, "//") {
		return false, "'/' cannot be used consecutively"
	}
	if strings.ContainsAny(p, forbiddenCharacters) {
		return false, "the path contains characters that cannot be used: " + forbiddenCharacters
	}
	return true, ""
}

// Join appends elements to a canonical base path.
func Join(base string, elem ...string) string {
	return Normalize(path.Join(append([]string{base}, elem...)...))
}

// Dir returns the listing prefix of a page: the canonical path followed by a slash.
func Dir(p string) string {
	p = Normalize(p)
	if p == Root {
		return Root
	}
	return p + "/"
}

// Base returns the last element of the canonical path.
func Base(p string) string {
	return path.Base(Normalize(p))
}

// Parent returns the canonical parent path. The parent of Root is Root.
func Parent(p string) string {
	return path.Dir(Normalize(p))
}

// ToLocator renders the virtual file locator for a page path.
func ToLocator(p string) string {
	return Scheme + ":" + p + "." + Ext
}

// FromLocator resolves a locator back to a canonical path. Locators with a foreign scheme
// or extension resolve to Root.
func FromLocator(locator string) string {
	rest, ok := strings.CutPrefix(locator, Scheme+":")
	if !ok {
		return Root
	}
	rest, ok = strings.CutSuffix(rest, "."+Ext)
	if !ok {
		return Root
	}
	if strings.Contains(rest, "%") {
		if decoded, err := url.PathUnescape(rest); err == nil {
			rest = decoded
		}
	}
	return Normalize(rest)
}
