package helper

import (
	"net"
	"strings"
)

// MatchHost reports whether address (host or host:port) is covered by one of
// hosts. Entries may use a leading "*." wildcard and an optional port.
func MatchHost(address string, hosts []string) bool {
	hostname, port := splitHostPort(address)
	for _, host := range hosts {
		h, p := splitHostPort(host)
		if matchHostname(hostname, h) && (p == "" || p == port) {
			return true
		}
	}
	return false
}

func matchHostname(hostname string, h string) bool {
	hostname = strings.ToLower(hostname)
	h = strings.ToLower(h)
	if h == "*" {
		return true
	}
	if strings.HasPrefix(h, "*.") {
		return hostname == h[2:] || strings.HasSuffix(hostname, h[1:])
	}
	return h == hostname
}

func splitHostPort(address string) (string, string) {
	if host, port, err := net.SplitHostPort(address); err == nil {
		return host, port
	}
	// bare IPv6 literal
	if strings.Count(address, ":") > 1 {
		return strings.Trim(address, "[]"), ""
	}
	index := strings.LastIndex(address, ":")
	if index == -1 {
		return address, ""
	}
	return address[:index], address[index+1:]
}
