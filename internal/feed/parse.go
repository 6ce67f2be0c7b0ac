package feed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"rssreader/internal/content"
)

var (
	errMissingTitle       = errors.New("feed is missing a channel title")
	errMissingDescription = errors.New("feed is missing a channel description")
)

type Parsed struct {
	Feed  Feed
	Posts []Post
}

// Rebind points every post at id, for documents re-fetched for a feed that
// is already subscribed.
func (p *Parsed) Rebind(id FeedID) {
	p.Feed.ID = id
	for i := range p.Posts {
		p.Posts[i].FeedID = id
	}
}

type Parser struct {
	ids IDSource
}

func NewParser(ids IDSource) *Parser {
	if ids == nil {
		ids = NewID
	}
	return &Parser{ids: ids}
}

// Parse normalises raw, fetched from sourceURL. Items keep document order and
// ids are minted in that order.
func (p *Parser) Parse(raw, sourceURL string) (*Parsed, error) {
	// gofeed parsers keep per-document state, so each call gets its own.
	doc, err := gofeed.NewParser().ParseString(raw)
	if err != nil {
		return nil, ParseError(sourceURL, fmt.Errorf("failed to parse feed: %w", err))
	}

	title := content.PlainText(doc.Title)
	if title == "" {
		return nil, ParseError(sourceURL, errMissingTitle)
	}
	description := normaliseDescription(doc.Description)
	if description == "" {
		return nil, ParseError(sourceURL, errMissingDescription)
	}

	out := &Parsed{
		Feed: Feed{
			ID:          FeedID(p.ids()),
			URL:         sourceURL,
			Title:       title,
			Description: description,
		},
		Posts: make([]Post, 0, len(doc.Items)),
	}

	for idx, item := range doc.Items {
		post, itemErr := p.normaliseItem(out.Feed.ID, item)
		if itemErr != nil {
			return nil, ParseError(sourceURL, fmt.Errorf("item %d: %w", idx+1, itemErr))
		}
		out.Posts = append(out.Posts, post)
	}

	return out, nil
}

func (p *Parser) normaliseItem(feedID FeedID, item *gofeed.Item) (Post, error) {
	if item == nil {
		return Post{}, errors.New("empty item")
	}
	title := content.PlainText(item.Title)
	if title == "" {
		return Post{}, errors.New("missing title")
	}
	link := itemLink(item)
	if link == "" {
		return Post{}, errors.New("missing link")
	}
	description := normaliseDescription(firstNonEmpty(item.Description, item.Content))
	if description == "" {
		return Post{}, errors.New("missing description")
	}
	return Post{
		ID:          PostID(p.ids()),
		FeedID:      feedID,
		Title:       title,
		Description: description,
		Link:        link,
	}, nil
}

func itemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, link := range item.Links {
		if trimmed := strings.TrimSpace(link); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// normaliseDescription prefers visible text; a description that is only
// markup keeps its trimmed source.
func normaliseDescription(raw string) string {
	if text := content.PlainText(raw); text != "" {
		return text
	}
	return strings.TrimSpace(raw)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
