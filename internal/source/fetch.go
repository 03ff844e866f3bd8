package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

// gutenbergMarker matches the "*** START OF ... ***" style lines that
// frame the body of a Project Gutenberg plain-text book.
var gutenbergMarker = regexp.MustCompile(`\*\*\* .+ \*\*\*`)

// Fetcher downloads documents by URL.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	log      *slog.Logger
}

func NewFetcher(timeout time.Duration, maxBytes int64, log *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		log:      log,
	}
}

// Fetch downloads rawURL. HTML pages are reduced to their article text;
// anything else is treated as a plain-text book framed by "*** ... ***"
// markers, and the text between the first and second marker is returned.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Document{}, fmt.Errorf("%w: invalid url %q", ErrFetchFailed, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", "docsum/1.0")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Document{}, fmt.Errorf("%w: read body: %v", ErrFetchFailed, err)
	}
	if int64(len(body)) > f.maxBytes {
		return Document{}, fmt.Errorf("%w: body exceeds %d bytes", ErrFetchFailed, f.maxBytes)
	}
	f.log.Debug("document fetched", "url", rawURL, "bytes", len(body), "duration", time.Since(start))

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		return extractArticle(body, resp.Request.URL)
	}

	text, err := stripGutenbergHeader(string(body))
	if err != nil {
		return Document{}, err
	}
	return Document{Title: titleFromURL(resp.Request.URL), Text: text}, nil
}

func extractArticle(body []byte, pageURL *url.URL) (Document, error) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return Document{}, fmt.Errorf("%w: extract article: %v", ErrFetchFailed, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		text = strings.TrimSpace(article.Content)
	}
	if text == "" {
		return Document{}, ErrNoText
	}
	title := article.Title
	if title == "" {
		title = titleFromURL(pageURL)
	}
	return Document{Title: title, Text: text}, nil
}

// stripGutenbergHeader drops carriage returns and keeps the text between
// the first and second "*** ... ***" markers, or after a lone one.
func stripGutenbergHeader(raw string) (string, error) {
	raw = strings.ReplaceAll(raw, "\r", "")
	parts := gutenbergMarker.Split(raw, -1)
	if len(parts) < 2 {
		return "", ErrMarkersNotFound
	}
	text := strings.TrimSpace(parts[1])
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func titleFromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	p := strings.TrimSuffix(u.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	if p == "" {
		return u.Host
	}
	return p
}
