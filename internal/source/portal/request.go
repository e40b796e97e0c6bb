package portal

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spigell/talent-screener/internal/source"
	"go.uber.org/zap"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
)

type pageResponse struct {
	Items   []map[string]any `json:"items"`
	Found   int              `json:"found"`
	Pages   int              `json:"pages"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

// login opens a session and stores its token. Must be called with mu held.
func (c *Client) login(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"username": c.creds.Username,
		"password": c.creds.Password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL+sessionPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.UserAgent)

	var session sessionResponse
	if err := c.do(req, &session); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if session.Token == "" {
		return fmt.Errorf("login: empty session token: %w", source.ErrAuth)
	}

	c.token = session.Token
	c.logger.Debug("portal session opened", zap.String("user", c.creds.Username))
	return nil
}

// getPage fetches one search page, opening or renewing the session when needed.
func (c *Client) getPage(ctx context.Context, q url.Values) (*pageResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	page, err := c.fetchPage(ctx, q)
	if errors.Is(err, source.ErrAuth) {
		c.logger.Debug("portal session expired, logging in again")
		c.token = ""
		if err := c.login(ctx); err != nil {
			return nil, err
		}
		page, err = c.fetchPage(ctx, q)
	}
	return page, err
}

func (c *Client) fetchPage(ctx context.Context, q url.Values) (*pageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL+searchPath, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.URL.RawQuery = q.Encode()

	var page pageResponse
	if err := c.do(req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept-Encoding", contentEncoding)
	req.Header.Set("Content-Type", contentType)
}

// do sends the request and decodes a JSON body into target, mapping failures
// to source error classes.
func (c *Client) do(req *http.Request, target any) error {
	c.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL.String()))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return source.Transient("request", ctxErr)
		}
		return source.Transient("request", err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return source.Transient("decode", err)
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return source.Transient("read", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("bad status: %s: %w", resp.Status, source.ErrAuth)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return source.Transient("request", fmt.Errorf("bad status: %s", resp.Status))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
