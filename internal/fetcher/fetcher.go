// Package fetcher pulls channel posts from an RSS bridge and feeds them to
// the event filter as if they had been pushed by Telegram.
package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"tg_digest/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses RSS feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: 30 * time.Second,
	}
}

// Fetch downloads and parses an RSS feed from the given URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "TGDigest/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// ItemGUID returns the GUID for an RSS item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// ItemEvent converts a bridge item of channel handle into an Event.
func ItemEvent(handle string, item *gofeed.Item) model.Event {
	ev := model.Event{
		ChatHandle: handle,
		SenderID:   handle,
		MessageID:  MessageID(item),
		Text:       ItemText(item),
	}
	switch {
	case item.PublishedParsed != nil:
		ev.Timestamp = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		ev.Timestamp = item.UpdatedParsed.UTC()
	default:
		ev.Timestamp = time.Now().UTC()
	}
	return ev
}

// MessageID extracts the post number from a t.me/<handle>/<id> link.
// Items without such a link get a stable id derived from their GUID.
func MessageID(item *gofeed.Item) int64 {
	if u, err := url.Parse(item.Link); err == nil {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if n, err := strconv.ParseInt(parts[len(parts)-1], 10, 64); err == nil && n > 0 {
			return n
		}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(ItemGUID(item)))
	return int64(h.Sum64() >> 1)
}

// ItemText returns the plain text of an item. HTML is stripped from the
// content or description; the title is used when both are empty.
func ItemText(item *gofeed.Item) string {
	raw := item.Content
	if strings.TrimSpace(raw) == "" {
		raw = item.Description
	}
	text := strings.TrimSpace(htmlText(raw))
	if text == "" {
		text = strings.TrimSpace(item.Title)
	}
	return text
}

func htmlText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})
	return doc.Text()
}
