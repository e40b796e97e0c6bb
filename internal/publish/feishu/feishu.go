// Package feishu publishes records into a Feishu (Lark) Bitable table.
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spigell/talent-screener/internal/publish"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://open.feishu.cn"
	tokenPath      = "/open-apis/auth/v3/tenant_access_token/internal"
	recordsPath    = "/open-apis/bitable/v1/apps/%s/tables/%s/records"
	// Tokens are renewed this long before they expire.
	tokenRefreshSlack = 5 * time.Minute
	defaultTokenTTL   = 2 * time.Hour
)

// Codes returned by the open platform for a missing, invalid or expired
// tenant token.
var tokenErrorCodes = map[int]bool{
	99991661: true,
	99991663: true,
	99991668: true,
}

// Config identifies the app and the target table.
type Config struct {
	BaseURL   string
	AppID     string
	AppSecret string
	AppToken  string
	TableID   string
}

type Client struct {
	cfg        Config
	HTTPClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

var (
	_ publish.Table  = (*Client)(nil)
	_ publish.Finder = (*Client)(nil)
)

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, errors.New("feishu app id and secret are required")
	}
	if strings.TrimSpace(cfg.AppToken) == "" || strings.TrimSpace(cfg.TableID) == "" {
		return nil, errors.New("feishu app token and table id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:        cfg,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		now:        time.Now,
	}, nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type tokenResponse struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Token  string `json:"tenant_access_token"`
	Expire int    `json:"expire"`
}

type recordData struct {
	Record struct {
		RecordID string `json:"record_id"`
	} `json:"record"`
}

type searchData struct {
	Items []struct {
		RecordID string `json:"record_id"`
	} `json:"items"`
}

// Create adds a record and returns its id.
func (c *Client) Create(ctx context.Context, fields map[string]any) (string, error) {
	var data recordData
	if err := c.call(ctx, http.MethodPost, c.recordsURL(""), map[string]any{"fields": fields}, &data); err != nil {
		return "", err
	}
	if data.Record.RecordID == "" {
		return "", errors.New("feishu returned empty record id")
	}
	return data.Record.RecordID, nil
}

// Update overwrites the fields of an existing record.
func (c *Client) Update(ctx context.Context, recordID string, fields map[string]any) error {
	return c.call(ctx, http.MethodPut, c.recordsURL(recordID), map[string]any{"fields": fields}, nil)
}

// Find returns the id of the record published for resultID, or an empty
// string.
func (c *Client) Find(ctx context.Context, resultID string) (string, error) {
	body := map[string]any{
		"filter": map[string]any{
			"conjunction": "and",
			"conditions": []map[string]any{{
				"field_name": publish.ResultIDField,
				"operator":   "is",
				"value":      []string{resultID},
			}},
		},
	}

	var data searchData
	if err := c.call(ctx, http.MethodPost, c.recordsURL("search")+"?page_size=1", body, &data); err != nil {
		return "", err
	}
	if len(data.Items) == 0 {
		return "", nil
	}
	return data.Items[0].RecordID, nil
}

func (c *Client) recordsURL(recordID string) string {
	u := c.cfg.BaseURL + fmt.Sprintf(recordsPath, c.cfg.AppToken, c.cfg.TableID)
	if recordID != "" {
		u += "/" + recordID
	}
	return u
}

func (c *Client) call(ctx context.Context, method, url string, payload any, target any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var env envelope
	if err := c.do(req, &env); err != nil {
		return err
	}
	if env.Code != 0 {
		if tokenErrorCodes[env.Code] {
			c.invalidate()
			return fmt.Errorf("feishu code %d: %s: %w", env.Code, env.Msg, publish.ErrAuth)
		}
		return fmt.Errorf("feishu code %d: %s", env.Code, env.Msg)
	}
	if target != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return fmt.Errorf("decode feishu data: %w", err)
		}
	}
	return nil
}

// accessToken returns a cached tenant token, fetching a new one when it is
// about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var resp tokenResponse
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("tenant access token: %w", err)
	}
	if resp.Code != 0 || resp.Token == "" {
		return "", fmt.Errorf("tenant access token: code %d: %s: %w", resp.Code, resp.Msg, publish.ErrAuth)
	}

	ttl := time.Duration(resp.Expire) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	c.token = resp.Token
	c.expiresAt = c.now().Add(ttl - tokenRefreshSlack)
	c.logger.Debug("feishu tenant token refreshed", zap.Time("expires_at", c.expiresAt))

	return c.token, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

func (c *Client) do(req *http.Request, target any) error {
	c.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL.String()))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return publish.Transient("request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return publish.Transient("read", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.forgetToken(req)
		return fmt.Errorf("bad status: %s: %w", resp.Status, publish.ErrAuth)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return publish.Transient("request", fmt.Errorf("bad status: %s", resp.Status))
	}

	// Feishu reports most failures with a 4xx status and a JSON envelope.
	if err := json.Unmarshal(data, target); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("bad status: %s", resp.Status)
		}
		return fmt.Errorf("decode feishu response: %w", err)
	}
	return nil
}

// forgetToken drops the cached token after a record call was rejected.
// Token requests run with mu held and must not touch it.
func (c *Client) forgetToken(req *http.Request) {
	if strings.HasSuffix(req.URL.Path, tokenPath) {
		return
	}
	c.invalidate()
}
