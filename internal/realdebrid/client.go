// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package realdebrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://api.real-debrid.com/rest/1.0"
	defaultRateLimit = 250
	unrestrictTTL    = 10 * time.Minute
	maxErrorBody     = 64 << 10
)

// Config holds the options for constructing a Client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
	// RateLimit is requests per minute. Zero uses the API's documented limit,
	// negative disables limiting.
	RateLimit int
	// RetryAttempts bounds retries of one-shot calls. ListTorrents is never retried.
	RetryAttempts uint
	RetryDelay    time.Duration
}

// Client is a typed wrapper around the Real-Debrid REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
	attempts   uint
	delay      time.Duration

	unrestrictGroup singleflight.Group
	unrestrictCache *ttlcache.Cache[string, *UnrestrictedLink]

	log zerolog.Logger
}

// NewClient constructs a new Client using the provided configuration.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "rdwatch"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	limit := cfg.RateLimit
	if limit == 0 {
		limit = defaultRateLimit
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if limit > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit)), 5)
	}

	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = 3
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: client,
		userAgent:  ua,
		limiter:    limiter,
		attempts:   attempts,
		delay:      delay,
		unrestrictCache: ttlcache.New(ttlcache.Options[string, *UnrestrictedLink]{}.
			SetDefaultTTL(unrestrictTTL)),
		log: log.With().Str("module", "realdebrid").Logger(),
	}
}

// ListTorrents fetches the newest torrents on the account. It is not retried;
// pollers are expected to try again on their next cycle.
func (c *Client) ListTorrents(ctx context.Context, limit int) ([]Torrent, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var raw []rawTorrent
	if err := c.do(ctx, http.MethodGet, "torrents", query, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to list torrents: %w", err)
	}

	torrents := make([]Torrent, 0, len(raw))
	for _, r := range raw {
		t := r.toTorrent()
		if t.Hash == "" {
			c.log.Warn().Str("id", t.ID).Str("filename", t.Filename).Msg("Dropping torrent without hash")
			continue
		}
		torrents = append(torrents, t)
	}

	return torrents, nil
}

// GetTorrent fetches the detail view including files and links.
func (c *Client) GetTorrent(ctx context.Context, id string) (*TorrentInfo, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("torrent id is required")
	}

	var raw rawTorrentInfo
	err := c.retry(ctx, func() error {
		return c.do(ctx, http.MethodGet, "torrents/info/"+url.PathEscape(id), nil, nil, &raw)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get torrent %s: %w", id, err)
	}

	return raw.toTorrentInfo(), nil
}

// SelectFiles submits the file selection. A nil slice selects every file.
func (c *Client) SelectFiles(ctx context.Context, id string, fileIDs []int) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("torrent id is required")
	}

	files := "all"
	if fileIDs != nil {
		if len(fileIDs) == 0 {
			return ErrEmptySelection
		}
		parts := make([]string, len(fileIDs))
		for i, fid := range fileIDs {
			parts[i] = strconv.Itoa(fid)
		}
		files = strings.Join(parts, ",")
	}

	form := url.Values{}
	form.Set("files", files)

	err := c.retry(ctx, func() error {
		return c.do(ctx, http.MethodPost, "torrents/selectFiles/"+url.PathEscape(id), nil, form, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to select files for %s: %w", id, err)
	}
	return nil
}

// Unrestrict converts a hoster link into a direct download link. Concurrent
// calls for the same link share one request and results are cached briefly.
func (c *Client) Unrestrict(ctx context.Context, link string) (*UnrestrictedLink, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, fmt.Errorf("link is required")
	}

	if cached, found := c.unrestrictCache.Get(link); found {
		return cached, nil
	}

	v, err, _ := c.unrestrictGroup.Do(link, func() (any, error) {
		form := url.Values{}
		form.Set("link", link)

		var raw rawUnrestrictedLink
		err := c.retry(ctx, func() error {
			return c.do(ctx, http.MethodPost, "unrestrict/link", nil, form, &raw)
		})
		if err != nil {
			return nil, err
		}

		result := raw.toUnrestrictedLink()
		c.unrestrictCache.Set(link, result, ttlcache.DefaultTTL)
		return result, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unrestrict link: %w", err)
	}

	return v.(*UnrestrictedLink), nil
}

// AddMagnet validates the magnet URI locally before submitting it.
func (c *Client) AddMagnet(ctx context.Context, magnet string) (*AddTorrentResponse, error) {
	magnet = strings.TrimSpace(magnet)
	m, err := metainfo.ParseMagnetUri(magnet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMagnet, err)
	}

	form := url.Values{}
	form.Set("magnet", magnet)

	var resp AddTorrentResponse
	err = c.retry(ctx, func() error {
		return c.do(ctx, http.MethodPost, "torrents/addMagnet", nil, form, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add magnet: %w", err)
	}

	resp.Hash = strings.ToLower(m.InfoHash.HexString())
	return &resp, nil
}

// Close releases the link cache.
func (c *Client) Close() {
	c.unrestrictCache.Close()
}

func (c *Client) retry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug().Err(err).Uint("attempt", n+1).Msg("Retrying request")
		}),
	)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, form url.Values, out any) error {
	if c.token == "" {
		return ErrMissingToken
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("failed to build endpoint: %w", err)
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
