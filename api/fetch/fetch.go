// Package fetch downloads remote audio for URL submissions.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"
)

const defaultFilename = "video.mp4"

var (
	ErrInvalidURL  = errors.New("invalid url")
	ErrTooLarge    = errors.New("remote file exceeds size limit")
	ErrUnreachable = errors.New("remote resource unreachable")
)

// StatusError is a non-2xx response from the remote server.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

type Client struct {
	httpClient *http.Client
	maxBytes   int64
}

func NewClient(timeout time.Duration, maxBytes int64) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
	}
}

// Download is an open remote body. The caller must Close it.
type Download struct {
	Filename string
	Body     io.ReadCloser
}

func (d *Download) Close() error {
	return d.Body.Close()
}

// Get requests rawURL and returns its body, capped at the configured size.
// Reading past the cap fails with ErrTooLarge.
func (c *Client) Get(ctx context.Context, rawURL string) (*Download, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, u.Redacted(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &StatusError{URL: u.Redacted(), StatusCode: resp.StatusCode}
	}

	if c.maxBytes > 0 && resp.ContentLength > c.maxBytes {
		resp.Body.Close()
		return nil, ErrTooLarge
	}

	body := resp.Body
	if c.maxBytes > 0 {
		body = &limitedBody{ReadCloser: resp.Body, remaining: c.maxBytes}
	}

	return &Download{
		Filename: filenameFor(u, resp.Header.Get("Content-Disposition")),
		Body:     body,
	}, nil
}

// filenameFor prefers the Content-Disposition filename, then the last URL path
// element.
func filenameFor(u *url.URL, disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}

	if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
		return name
	}
	return defaultFilename
}

type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.ReadCloser.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
