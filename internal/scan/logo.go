package scan

import (
	"net/url"
	"strings"
)

const unknownDomain = "unknown.com"

var logoOverrides = map[string]string{
	"t.me":       "https://logo.clearbit.com/telegram.org",
	"giters.com": "https://giters.com/images/favicon.svg",
	"ko-fi.com":  "https://storage.ko-fi.com/cdn/brandasset/kofi_s_logo_nolabel.png",
}

// ExtractDomain returns the last two labels of the URL host, or the whole
// host when it has fewer. It does not consult the public suffix list, so
// "sub.example.co.uk" yields "co.uk".
func ExtractDomain(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return host, true
	}
	return parts[len(parts)-2] + "." + parts[len(parts)-1], true
}

func SiteLogo(domain string) string {
	if logo, ok := logoOverrides[domain]; ok {
		return logo
	}
	return "https://logo.clearbit.com/" + domain
}

func logoFor(rawURL string) string {
	domain, ok := ExtractDomain(rawURL)
	if !ok {
		domain = unknownDomain
	}
	return SiteLogo(domain)
}
