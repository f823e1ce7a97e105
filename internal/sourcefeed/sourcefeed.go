// Package sourcefeed is the client for the source-platform content feed
// service. The feed answers "what did this account publish recently"; it is
// a black box behind one HTTP endpoint and may report the same item more than
// once, which the delivery path tolerates by design.
package sourcefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"mediafetch/entity"
	"mediafetch/internal/config"
	"mediafetch/lib/sl"
)

type Client struct {
	hc      *http.Client
	baseURL string
	apiKey  string
	log     *slog.Logger
}

func NewClient(conf *config.Config, log *slog.Logger) *Client {
	return &Client{
		hc:      &http.Client{Timeout: 30 * time.Second},
		baseURL: conf.Feed.Url,
		apiKey:  conf.Feed.ApiKey,
		log:     log.With(sl.Module("sourcefeed")),
	}
}

type feedItem struct {
	Id          string    `json:"id"`
	Url         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Caption     string    `json:"caption"`
	PublishedAt time.Time `json:"published_at"`
}

// RecentContent lists content the source account published since the given
// time, newest last.
func (c *Client) RecentContent(ctx context.Context, sourceAccountId string, since time.Time) ([]*entity.ContentEvent, error) {
	log := c.log.With(slog.String("source", sourceAccountId))

	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("%s/accounts/%s/content?%s", c.baseURL, url.PathEscape(sourceAccountId), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		log.Error("feed returned error",
			slog.String("status", resp.Status),
			slog.String("body", string(body)))
		return nil, fmt.Errorf("feed %s: %s", resp.Status, body)
	}

	var items []feedItem
	if err = json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}

	events := make([]*entity.ContentEvent, 0, len(items))
	for _, item := range items {
		ref := item.Url
		if ref == "" {
			ref = item.Id
		}
		ct := entity.ContentType(item.ContentType)
		if !ct.IsValid() {
			ct = entity.ContentImage
		}
		events = append(events, &entity.ContentEvent{
			SourceAccountId: sourceAccountId,
			ContentRef:      ref,
			ContentType:     ct,
			Caption:         item.Caption,
			PublishedAt:     item.PublishedAt,
		})
	}
	return events, nil
}
