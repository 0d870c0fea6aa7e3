// Package fetch retrieves raw audio assets by locator.
package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

var (
	ErrNetwork  = errors.New("failed to fetch asset")
	ErrTooLarge = errors.New("asset exceeds size limit")
)

// Config represents fetch client configuration.
type Config struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
}

// Client fetches assets over HTTP(S) or from the local filesystem.
type Client struct {
	httpClient *http.Client
	maxBytes   int64
	userAgent  string
}

// New creates a new fetch client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 512 << 20
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxBytes:   cfg.MaxBytes,
		userAgent:  cfg.UserAgent,
	}
}

// Fetch returns the raw bytes at locator. Locators are http(s) URLs,
// file URLs or plain paths.
func (c *Client) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if locator == "" {
		return nil, errors.New("empty locator")
	}

	u, err := url.Parse(locator)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return c.fetchHTTP(ctx, locator)
		case "file":
			return c.readFile(u.Path)
		}
	}
	return c.readFile(locator)
}

func (c *Client) fetchHTTP(ctx context.Context, locator string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to send request to %s", locator), ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Mark(errors.Newf("unexpected status %d from %s", resp.StatusCode, locator), ErrNetwork)
	}
	if resp.ContentLength > c.maxBytes {
		return nil, errors.Wrapf(ErrTooLarge, "%s is %d bytes", locator, resp.ContentLength)
	}

	body, err := c.readLimited(resp.Body)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to read response body from %s", locator), ErrNetwork)
	}

	zlog.Debug().Msgf("fetch: downloaded: locator=%s bytes=%d elapsed=%v content_type=%s",
		locator, len(body), time.Since(start), resp.Header.Get("Content-Type"))
	return body, nil
}

func (c *Client) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to open %s", path), ErrNetwork)
	}
	defer f.Close()

	data, err := c.readLimited(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	zlog.Debug().Msgf("fetch: read file: path=%s bytes=%d", path, len(data))
	return data, nil
}

func (c *Client) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxBytes {
		return nil, errors.Wrapf(ErrTooLarge, "limit %d bytes", c.maxBytes)
	}
	return data, nil
}
