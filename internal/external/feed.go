package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"eventdigest/internal/types"
)

// FeedPath is the location of the day-grouped events document on the site.
const FeedPath = "/events_by_day.json"

// maxFeedBytes bounds the decoded feed size.
const maxFeedBytes = 32 << 20

// FeedClient fetches the events feed published by the site.
type FeedClient struct {
	base   *BaseClient
	logger *slog.Logger

	// decoderPool provides reusable zstd decoders to avoid repeated allocations.
	decoderPool sync.Pool
}

// NewFeedClient creates a FeedClient that issues requests through base.
func NewFeedClient(base *BaseClient, logger *slog.Logger) *FeedClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedClient{
		base:   base,
		logger: logger,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxFeedBytes))
				if err != nil {
					// This should never fail with nil input and valid options.
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

// FeedURL returns the feed location for siteURL.
func FeedURL(siteURL string) string {
	return strings.TrimRight(siteURL, "/") + FeedPath
}

// FetchEvents downloads and decodes the feed of siteURL. The result holds
// every day the feed publishes; callers narrow it to a window. Any non-2xx
// status, transport failure, or undecodable body returns an AppError with
// types.ErrCodeUpstreamFeed.
func (c *FeedClient) FetchEvents(ctx context.Context, siteURL string) (types.EventsByDay, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, FeedURL(siteURL), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeed, "Failed to fetch events", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "zstd, gzip")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeed, "Failed to fetch events", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamFeed,
			"Failed to fetch events",
			fmt.Errorf("feed returned %d", resp.StatusCode),
		).WithDetails(map[string]any{"status": resp.StatusCode})
	}

	body, err := c.readBody(resp)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeed, "Failed to fetch events", err)
	}

	// Days are decoded one by one so a single malformed entry, usually a
	// past day nobody will render, does not take the whole digest down.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeed, "Failed to fetch events", fmt.Errorf("decode feed: %w", err))
	}
	days := make(types.EventsByDay, len(raw))
	skipped := 0
	for date, dayJSON := range raw {
		var events []types.Event
		if err := json.Unmarshal(dayJSON, &events); err != nil {
			skipped++
			c.logger.WarnContext(ctx, "skipping undecodable feed day", "date", date, "error", err)
			continue
		}
		days[date] = events
	}

	c.logger.DebugContext(ctx, "fetched events feed",
		"days", len(days),
		"skipped_days", skipped,
		"encoding", resp.Header.Get("Content-Encoding"),
		"bytes", len(body),
	)
	return days, nil
}

// readBody reads the response body, undoing any content encoding.
func (c *FeedClient) readBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	if len(raw) > maxFeedBytes {
		return nil, fmt.Errorf("feed exceeds %d bytes", maxFeedBytes)
	}

	switch enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, maxFeedBytes+1))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		if len(out) > maxFeedBytes {
			return nil, fmt.Errorf("feed exceeds %d bytes", maxFeedBytes)
		}
		return out, nil
	case "zstd":
		return c.decompressZstd(raw)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", enc)
	}
}

// decompressZstd decompresses zstd-compressed data using pooled decoders.
func (c *FeedClient) decompressZstd(data []byte) ([]byte, error) {
	decoder := c.decoderPool.Get().(*zstd.Decoder)
	defer c.decoderPool.Put(decoder)

	result, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return result, nil
}

// Compile-time assertion that FeedClient satisfies EventFeed.
var _ EventFeed = (*FeedClient)(nil)
