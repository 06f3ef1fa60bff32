package oauth

import (
	"net/url"
	"strings"
)

// checkRedirect accepts same-site paths and absolute URLs on an allowed
// origin. An empty value means the site root.
func (b *Broker) checkRedirect(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "/", nil
	}
	if strings.ContainsAny(raw, "\\\r\n\t") {
		return "", ErrInvalidRedirectURI
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidRedirectURI
	}
	if strings.HasPrefix(raw, "/") {
		// "//host/path" is protocol-relative and would leave the site.
		if strings.HasPrefix(raw, "//") || u.Host != "" {
			return "", ErrInvalidRedirectURI
		}
		return raw, nil
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.User != nil {
		return "", ErrInvalidRedirectURI
	}
	if _, ok := b.origins[normalizeOrigin(u.Scheme+"://"+u.Host)]; !ok {
		return "", ErrInvalidRedirectURI
	}
	return raw, nil
}

func normalizeOrigin(o string) string {
	u, err := url.Parse(strings.TrimSpace(o))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
