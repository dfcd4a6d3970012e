package jsonld

import (
	"net"
	"strings"
)

// Reserved TLDs that never resolve to a public host.
// https://en.wikipedia.org/wiki/Top-level_domain#Reserved_domains
var invalidTLDs = map[string]bool{
	"arpa":        true, // RFC 3172
	"example":     true, // RFC 6761
	"invalid":     true,
	"localhost":   true,
	"test":        true,
	"localdomain": true,
	"local":       true, // RFC 6762
	"onion":       true, // RFC 7686
}

// https://url.spec.whatwg.org/#forbidden-host-code-point
const invalidHostChars = "\x00\t\n\r #%/:?@[\\]"

// IsPublicURL checks that a URL that is supposed to be some resource on the
// public internet doesn't point to known invalid hosts. HTTPS is required.
func IsPublicURL(url string) bool {
	if !strings.HasPrefix(url, "https://") {
		return false
	}

	// We want a valid domain, not an IP address. The invalid character list
	// also rules out IPv6 literals and ports.
	host, _, _ := strings.Cut(strings.TrimPrefix(url, "https://"), "/")
	if host == "" || !strings.Contains(host, ".") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return false
	}
	if strings.ContainsAny(host, invalidHostChars) {
		return false
	}

	tld := host[strings.LastIndex(host, ".")+1:]
	return tld != "" && !invalidTLDs[tld]
}
