// Package portal is a candidate source backed by a recruiting portal HTTP API.
// The portal keeps a login session per account, so a single Client must not be
// driven by two runs at once.
package portal

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	name             = "portal"
	defaultUserAgent = "spigell/talent-screener"
	defaultPerPage   = 50

	sessionPath = "/api/session"
	searchPath  = "/api/candidates"
)

// Credentials identify the recruiter account.
type Credentials struct {
	Username string
	Password string
}

type Client struct {
	APIURL     string
	UserAgent  string
	PerPage    int
	HTTPClient *http.Client

	creds  Credentials
	logger *zap.Logger

	mu    sync.Mutex
	token string
}

func New(apiURL string, creds Credentials, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		APIURL:    strings.TrimRight(apiURL, "/"),
		UserAgent: defaultUserAgent,
		PerPage:   defaultPerPage,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		creds:  creds,
		logger: logger,
	}
}

func (c *Client) Name() string {
	return name
}
