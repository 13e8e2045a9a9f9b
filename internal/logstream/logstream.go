// Package logstream opens an app's live log-stream endpoint and exposes it
// as a line-oriented reader suitable for the tail runner.
package logstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Options locates the stream and carries its basic-auth credentials.
type Options struct {
	SCMURL   string
	Username string
	Password string
}

// Client opens log streams against one app.
type Client struct {
	opts Options
	hc   *http.Client
}

// NewClient validates opts and builds a Client. The underlying HTTP client
// carries no timeout: a log stream stays open for the whole tail window and
// is ended by Close or context cancellation.
func NewClient(opts Options) (*Client, error) {
	if opts.SCMURL == "" {
		return nil, errors.New("logstream: SCM URL is required")
	}
	opts.SCMURL = strings.TrimSuffix(opts.SCMURL, "/")
	return &Client{opts: opts, hc: &http.Client{}}, nil
}

// Open connects to the live log stream. Cancel ctx to abort the connection
// mid-stream; otherwise the stream ends when the server closes it or Close
// is called.
func (c *Client) Open(ctx context.Context) (*Stream, error) {
	u := c.opts.SCMURL + "/api/logstream"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("logstream: build request: %w", err)
	}
	if c.opts.Username != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("logstream: connect %s: %w", u, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("logstream: connect %s: status %d: %s", u, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return &Stream{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

// Stream is one open log-stream connection.
type Stream struct {
	body      io.ReadCloser
	r         *bufio.Reader
	closeOnce sync.Once
	closeErr  error
	eof       bool
}

// ReadLine blocks for the next line, trimmed of its CR/LF terminator. A
// partial line at end of stream is delivered first; the following call
// returns io.EOF.
func (s *Stream) ReadLine() (string, error) {
	if s.eof {
		return "", io.EOF
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			s.eof = true
			return trimEOL(line), nil
		}
		return "", err
	}
	return trimEOL(line), nil
}

// Close aborts the connection. Safe to call more than once; a blocked
// ReadLine returns with an error once the body is closed.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

func trimEOL(line string) string {
	return strings.TrimRight(line, "\r\n")
}
