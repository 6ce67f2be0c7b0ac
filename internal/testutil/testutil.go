// Package testutil provides fake feed transports and document builders.
package testutil

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
)

var ErrFeedUnavailable = errors.New("feed unavailable")

// FeedServer is an http.RoundTripper serving feed documents from memory,
// keyed by URL. Unknown URLs fail at the transport level.
type FeedServer struct {
	mu       sync.RWMutex
	docs     map[string]string
	failing  map[string]bool
	requests map[string]int
	// Proxy, when non-empty, is the proxy host; requests are then expected
	// at https://<Proxy>/get?url=... and answered with a JSON envelope.
	Proxy string
}

// NewFeedServer returns an empty FeedServer.
func NewFeedServer(t *testing.T) *FeedServer {
	t.Helper()
	return &FeedServer{
		docs:     make(map[string]string),
		failing:  make(map[string]bool),
		requests: make(map[string]int),
	}
}

// FeedURL returns a per-test URL under the fake host.
func FeedURL(t *testing.T, name string) string {
	t.Helper()
	return "https://feed.test/" + url.PathEscape(t.Name()) + "/" + name
}

// SetFeedXML serves xml at feedURL and clears any failure flag.
func (f *FeedServer) SetFeedXML(feedURL, xml string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[feedURL] = xml
	delete(f.failing, feedURL)
}

// Fail makes requests for feedURL fail at the transport level.
func (f *FeedServer) Fail(feedURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[feedURL] = true
}

// Requests reports how many times feedURL was requested.
func (f *FeedServer) Requests(feedURL string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.requests[feedURL]
}

// Client returns an *http.Client using f as its transport.
func (f *FeedServer) Client() *http.Client {
	return &http.Client{Transport: f}
}

// RoundTrip implements http.RoundTripper.
func (f *FeedServer) RoundTrip(req *http.Request) (*http.Response, error) {
	feedURL := req.URL.String()
	if f.Proxy != "" {
		if req.URL.Host != f.Proxy || req.URL.Path != "/get" {
			return nil, fmt.Errorf("unexpected proxy url: %s", req.URL.String())
		}
		feedURL = req.URL.Query().Get("url")
	}

	f.mu.Lock()
	f.requests[feedURL]++
	doc, ok := f.docs[feedURL]
	failing := f.failing[feedURL]
	f.mu.Unlock()

	if failing || !ok {
		return nil, fmt.Errorf("%w: %s", ErrFeedUnavailable, feedURL)
	}

	body := doc
	contentType := "application/rss+xml"
	if f.Proxy != "" {
		body = Envelope(doc, http.StatusOK)
		contentType = "application/json"
	}

	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

// Envelope wraps contents the way the pass-through proxy does.
func Envelope(contents string, httpCode int) string {
	payload := map[string]any{
		"contents": contents,
		"status": map[string]any{
			"http_code":    httpCode,
			"content_type": "application/rss+xml",
		},
	}
	data, err := jsoniter.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type RSSItem struct {
	Title       string
	Link        string
	GUID        string
	PubDate     string
	Description string
}

// RSSXML renders an RSS 2.0 document with the given channel title.
func RSSXML(title string, items []RSSItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString("<rss version=\"2.0\"><channel>")
	b.WriteString(fmt.Sprintf("<title>%s</title>", title))
	b.WriteString("<link>http://example.com</link>")
	b.WriteString("<description>Test feed</description>")
	for _, item := range items {
		b.WriteString("<item>")
		b.WriteString(fmt.Sprintf("<title>%s</title>", item.Title))
		b.WriteString(fmt.Sprintf("<link>%s</link>", item.Link))
		if item.GUID != "" {
			b.WriteString(fmt.Sprintf("<guid>%s</guid>", item.GUID))
		}
		if item.PubDate != "" {
			b.WriteString(fmt.Sprintf("<pubDate>%s</pubDate>", item.PubDate))
		}
		b.WriteString(fmt.Sprintf("<description><![CDATA[%s]]></description>", item.Description))
		b.WriteString("</item>")
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

// Items builds n items whose links are http://example.com/<prefix>-<i>.
func Items(prefix string, n int) []RSSItem {
	items := make([]RSSItem, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, RSSItem{
			Title:       fmt.Sprintf("%s %d", prefix, i),
			Link:        fmt.Sprintf("http://example.com/%s-%d", prefix, i),
			GUID:        fmt.Sprintf("%s-%d", prefix, i),
			Description: fmt.Sprintf("<p>%s summary %d</p>", prefix, i),
		})
	}
	return items
}

// SequentialIDs returns an id source yielding prefix-1, prefix-2, ...
func SequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
