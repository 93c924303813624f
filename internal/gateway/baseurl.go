package gateway

import (
	"net/netip"
	"net/url"
	"strings"
)

// LocalAPIPath is appended to same-origin pages served from local hosts.
const LocalAPIPath = "/api"

// ResolveBaseURL picks the gateway root for a wallet served from pageURL.
// Loopback, private-network and .local hosts talk to the same origin under
// /api; everything else uses remoteURL.
func ResolveBaseURL(pageURL, remoteURL string) string {
	remoteURL = strings.TrimSuffix(strings.TrimSpace(remoteURL), "/")

	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || u.Host == "" {
		return remoteURL
	}
	if !IsLocalHost(u.Hostname()) {
		return remoteURL
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + u.Host + LocalAPIPath
}

// IsLocalHost reports whether host is a loopback, LAN or mDNS name.
func IsLocalHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return true
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}
