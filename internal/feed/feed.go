// Package feed fetches, parses and deduplicates subscribed feeds.
package feed

import (
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

type FeedID string

type PostID string

type Feed struct {
	ID          FeedID `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type Post struct {
	ID          PostID `json:"id"`
	FeedID      FeedID `json:"feedId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

type IDSource func() string

func NewID() string {
	return uuid.NewString()
}

var (
	errURLRequired = errors.New("feed URL is required")
	errURLInvalid  = errors.New("feed URL looks invalid")
	errURLScheme   = errors.New("feed URL must use http or https")
	errURLHost     = errors.New("feed URL points at a disallowed host")
)

type URLPolicy struct {
	AllowPrivateHosts bool
}

func NormalizeURL(raw string) (string, error) {
	return URLPolicy{}.Normalize(raw)
}

func (p URLPolicy) Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", newError(KindURLInvalid, raw, errURLRequired)
	}
	u, err := url.ParseRequestURI(trimmed)
	if err != nil || u.Host == "" {
		return "", newError(KindURLInvalid, raw, errURLInvalid)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", newError(KindURLInvalid, raw, errURLScheme)
	}
	if u.User != nil {
		return "", newError(KindURLInvalid, raw, errURLInvalid)
	}
	if !p.AllowPrivateHosts && isDisallowedHost(u.Hostname()) {
		return "", newError(KindURLInvalid, raw, errURLHost)
	}
	u.Fragment = ""
	return u.String(), nil
}

func isDisallowedHost(host string) bool {
	hostname := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if hostname == "" || hostname == "localhost" {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return isDisallowedIP(ip)
	}
	return false
}

func isDisallowedIP(ip net.IP) bool {
	// Block direct IPs that point to local/internal ranges.
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified()
}
