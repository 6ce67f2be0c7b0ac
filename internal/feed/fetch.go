package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultFetchTimeout = 5 * time.Second
	DefaultMaxBodyBytes = 10 << 20
	proxyGetPath        = "/get"
	userAgent           = "rssreader/1.0"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errBodyTooLarge = errors.New("response body exceeds limit")

type FetcherConfig struct {
	// ProxyURL, when set, routes every request through a pass-through proxy
	// answering /get?url=...&disableCache=true with a JSON envelope.
	ProxyURL     string
	Timeout      time.Duration
	MaxBodyBytes int64
}

type FetcherOption func(*Fetcher)

// WithTransport replaces the HTTP transport, mostly for tests.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *Fetcher) {
		f.client.Transport = rt
	}
}

func WithFetchLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.log = logger
	}
}

// Fetcher retrieves raw feed documents. It never retries.
type Fetcher struct {
	client  *http.Client
	proxy   *url.URL
	maxBody int64
	group   singleflight.Group
	log     *slog.Logger
}

type proxyEnvelope struct {
	Contents string `json:"contents"`
	Status   struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
		HTTPCode    int    `json:"http_code"`
	} `json:"status"`
}

func NewFetcher(cfg FetcherConfig, opts ...FetcherOption) (*Fetcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	f := &Fetcher{
		client:  &http.Client{Timeout: timeout},
		maxBody: maxBody,
		log:     slog.Default(),
	}

	if strings.TrimSpace(cfg.ProxyURL) != "" {
		proxy, err := url.Parse(strings.TrimSpace(cfg.ProxyURL))
		if err != nil || proxy.Host == "" {
			return nil, fmt.Errorf("parse proxy URL %q: invalid", cfg.ProxyURL)
		}
		f.proxy = proxy
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// Fetch returns the raw document at feedURL. Concurrent calls for the same
// URL share one request.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (string, error) {
	v, err, _ := f.group.Do(feedURL, func() (any, error) {
		return f.fetch(ctx, feedURL)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) fetch(ctx context.Context, feedURL string) (string, error) {
	log := f.log.With("feed_url", feedURL)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.requestURL(feedURL), nil)
	if err != nil {
		return "", NetworkError(feedURL, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		log.Warn("feed fetch failed", "duration_ms", time.Since(start).Milliseconds(), "err", err)
		return "", NetworkError(feedURL, fmt.Errorf("failed to fetch feed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		log.Warn("feed fetch unexpected status", "status", resp.StatusCode)
		return "", NetworkError(feedURL, fmt.Errorf("unexpected status %d from feed", resp.StatusCode))
	}

	body, err := f.readBody(resp.Body)
	if err != nil {
		return "", NetworkError(feedURL, err)
	}

	log.Debug("feed fetched", "status", resp.StatusCode, "bytes", len(body), "duration_ms", time.Since(start).Milliseconds())

	if f.proxy == nil {
		return string(body), nil
	}
	return decodeEnvelope(feedURL, body)
}

func (f *Fetcher) readBody(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}
	if int64(len(data)) > f.maxBody {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func (f *Fetcher) requestURL(feedURL string) string {
	if f.proxy == nil {
		return feedURL
	}
	u := *f.proxy
	u.Path = strings.TrimSuffix(u.Path, "/") + proxyGetPath
	q := url.Values{}
	q.Set("url", feedURL)
	q.Set("disableCache", "true")
	u.RawQuery = q.Encode()
	return u.String()
}

func decodeEnvelope(feedURL string, body []byte) (string, error) {
	var env proxyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", NetworkError(feedURL, fmt.Errorf("decode proxy envelope: %w", err))
	}
	code := env.Status.HTTPCode
	if code != 0 && (code < http.StatusOK || code >= http.StatusMultipleChoices) {
		return "", NetworkError(feedURL, fmt.Errorf("proxy reported status %d", code))
	}
	if strings.TrimSpace(env.Contents) == "" {
		return "", NetworkError(feedURL, errors.New("proxy returned empty contents"))
	}
	return env.Contents, nil
}
