package settings

import (
	"strconv"
	"strings"

	"growiclient/app/internal/wikipath"
)

// Name identifies a single user setting in change notifications and error messages.
type Name string

// Setting names.
const (
	NameWikiURL        Name = "WikiURL"
	NameAPIToken       Name = "APIToken"
	NameRootPath       Name = "RootPath"
	NameMaxPagePerTime Name = "MaxPagePerTime"
)

const (
	// DefaultRootPath is the tree root used when no root path is configured.
	DefaultRootPath = wikipath.Root
	// DefaultMaxPagePerTime bounds how many child pages a single expansion accepts.
	DefaultMaxPagePerTime = 10
)

// Settings is an immutable snapshot of the user settings.
type Settings struct {
	// WikiURL is trimmed, ends with a slash and is percent-encoded.
	WikiURL string
	// APIToken is trimmed and percent-encoded.
	APIToken       string
	RootPath       string
	MaxPagePerTime int
}

// Provider exposes the current settings and a change stream.
type Provider interface {
	Current() Settings
	Subscribe(listener func(Name)) (unsubscribe func())
}

// Static is a Provider with fixed values that never notifies.
type Static Settings

var _ Provider = Static{}

// Current returns the settings with defaults applied.
func (s Static) Current() Settings {
	return withDefaults(Settings(s))
}

// Subscribe is a no-op for static settings.
func (s Static) Subscribe(func(Name)) func() {
	return func() {}
}

// NormalizeWikiURL trims the URL, enforces a trailing slash and percent-encodes it.
func NormalizeWikiURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !strings.HasSuffix(trimmed, "/") {
		trimmed += "/"
	}
	return encodeURI(trimmed)
}

// NormalizeAPIToken trims and percent-encodes the token.
func NormalizeAPIToken(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return encodeURI(trimmed)
}

// NormalizeRootPath canonicalizes the root path, falling back to the default when empty.
func NormalizeRootPath(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return DefaultRootPath
	}
	return wikipath.Normalize(raw)
}

// NormalizeMaxPagePerTime falls back to the default for non-positive values.
func NormalizeMaxPagePerTime(n int) int {
	if n <= 0 {
		return DefaultMaxPagePerTime
	}
	return n
}

func withDefaults(s Settings) Settings {
	s.RootPath = NormalizeRootPath(s.RootPath)
	s.MaxPagePerTime = NormalizeMaxPagePerTime(s.MaxPagePerTime)
	return s
}

func fromValues(values map[Name]string) Settings {
	s := Settings{
		WikiURL:  values[NameWikiURL],
		APIToken: values[NameAPIToken],
		RootPath: values[NameRootPath],
	}
	if raw := values[NameMaxPagePerTime]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			s.MaxPagePerTime = n
		}
	}
	return withDefaults(s)
}

const uriUnescaped = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" +
	";,/?:@&=+$-_.!~*'()#"

// encodeURI escapes everything outside the URI reserved and unreserved sets, byte by byte
// over the UTF-8 encoding.
func encodeURI(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(uriUnescaped, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}
