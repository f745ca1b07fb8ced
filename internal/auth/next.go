package auth

import (
	"net/url"
	"strings"
)

// SafeNext returns next when it is a local absolute path, otherwise fallback.
// Post-login redirects never leave the site.
func SafeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return next
}
