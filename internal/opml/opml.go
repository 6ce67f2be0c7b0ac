// Package opml reads and writes feed subscription lists in OPML 2.0.
package opml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"

	"rssreader/internal/feed"
)

// MaxDocumentBytes bounds how much of an uploaded document is read.
const MaxDocumentBytes int64 = 2 << 20

// Subscription is one feed entry of an OPML document.
type Subscription struct {
	Title       string
	Description string
	URL         string
}

type document struct {
	XMLName xml.Name  `xml:"opml"`
	Version string    `xml:"version,attr"`
	Title   string    `xml:"head>title,omitempty"`
	Body    []outline `xml:"body>outline"`
}

type outline struct {
	Text        string    `xml:"text,attr,omitempty"`
	Title       string    `xml:"title,attr,omitempty"`
	Description string    `xml:"description,attr,omitempty"`
	Type        string    `xml:"type,attr,omitempty"`
	XMLURL      string    `xml:"xmlUrl,attr,omitempty"`
	LegacyURL   string    `xml:"xmlurl,attr,omitempty"`
	URL         string    `xml:"url,attr,omitempty"`
	Children    []outline `xml:"outline"`
}

var errNotOPML = errors.New("document root is not <opml>")

// FromFeeds lists subscribed feeds as subscriptions, keeping their order.
func FromFeeds(feeds []feed.Feed) []Subscription {
	return lo.Map(feeds, func(f feed.Feed, _ int) Subscription {
		return Subscription{Title: f.Title, Description: f.Description, URL: f.URL}
	})
}

// Parse reads subscriptions from r, walking nested outline groups depth
// first. Outlines without a feed URL are group headers and are skipped.
// A URL listed twice is returned once.
func Parse(r io.Reader) ([]Subscription, error) {
	var doc document
	dec := xml.NewDecoder(io.LimitReader(r, MaxDocumentBytes))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode OPML: %w", err)
	}
	if !strings.EqualFold(doc.XMLName.Local, "opml") {
		return nil, errNotOPML
	}

	var subs []Subscription
	walk(doc.Body, func(o outline) {
		feedURL := firstNonBlank(o.XMLURL, o.LegacyURL, o.URL)
		if feedURL == "" {
			return
		}
		subs = append(subs, Subscription{
			Title:       firstNonBlank(o.Title, o.Text, feedURL),
			Description: strings.TrimSpace(o.Description),
			URL:         feedURL,
		})
	})

	return lo.UniqBy(subs, func(s Subscription) string { return s.URL }), nil
}

// Write encodes subs as an OPML 2.0 document titled title.
func Write(w io.Writer, title string, subs []Subscription) error {
	doc := document{
		Version: "2.0",
		Title:   strings.TrimSpace(title),
	}
	for _, s := range subs {
		feedURL := strings.TrimSpace(s.URL)
		if feedURL == "" {
			continue
		}
		name := firstNonBlank(s.Title, feedURL)
		doc.Body = append(doc.Body, outline{
			Text:        name,
			Title:       name,
			Description: strings.TrimSpace(s.Description),
			Type:        "rss",
			XMLURL:      feedURL,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write XML header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode OPML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close OPML encoder: %w", err)
	}
	return nil
}

func walk(outlines []outline, visit func(outline)) {
	for _, o := range outlines {
		visit(o)
		walk(o.Children, visit)
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
