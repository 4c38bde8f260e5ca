package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jun/erpdrive/internal/errs"
	"github.com/jun/erpdrive/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	DriveScope      = "https://www.googleapis.com/auth/drive"

	jwtBearerGrant    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime = time.Hour
	refreshTimeout    = 30 * time.Second

	// EarlyExpiry is subtracted from expires_in when a token is cached.
	EarlyExpiry = 60 * time.Second
	// SafetyMargin is how long before the cached expiry a token stops being served.
	SafetyMargin = 30 * time.Second
)

// ServiceAccountConfig holds the credentials of the Drive service account.
type ServiceAccountConfig struct {
	Email         string
	PrivateKeyPEM string
	Scope         string
	TokenURL      string
	// Subject, when set, is the user the service account acts for (domain-wide delegation).
	Subject string
}

// TokenCache holds one bearer token and the instant it stops being trusted.
type TokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns the cached token unless now is within SafetyMargin of its expiry.
func (c *TokenCache) Get(now time.Time) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || !now.Before(c.expiresAt.Add(-SafetyMargin)) {
		return "", false
	}
	return c.token, true
}

func (c *TokenCache) Store(token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = expiresAt
}

func (c *TokenCache) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}

// ServiceAccountTokenProvider exchanges a signed JWT assertion for a bearer token and caches it.
// Concurrent refreshes are collapsed into a single exchange.
type ServiceAccountTokenProvider struct {
	cfg        ServiceAccountConfig
	httpClient *http.Client
	cache      *TokenCache
	group      singleflight.Group
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

type Option func(*ServiceAccountTokenProvider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *ServiceAccountTokenProvider) { p.httpClient = c }
}

func WithClock(now func() time.Time) Option {
	return func(p *ServiceAccountTokenProvider) { p.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *ServiceAccountTokenProvider) { p.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *ServiceAccountTokenProvider) { p.metrics = m }
}

// NewServiceAccountTokenProvider creates a provider. Credentials are validated lazily
// so a bad key is reported per request as errs.ErrPrivateKeyInvalid.
func NewServiceAccountTokenProvider(cfg ServiceAccountConfig, opts ...Option) *ServiceAccountTokenProvider {
	if cfg.Scope == "" {
		cfg.Scope = DriveScope
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	p := &ServiceAccountTokenProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cache:      &TokenCache{},
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cache exposes the provider's token cache.
func (p *ServiceAccountTokenProvider) Cache() *TokenCache {
	return p.cache
}

// AccessToken returns a valid bearer token, refreshing it when needed.
// The shared refresh runs detached from ctx, so one cancelled caller does not fail the others waiting on it.
func (p *ServiceAccountTokenProvider) AccessToken(ctx context.Context) (string, error) {
	if tok, ok := p.cache.Get(p.now()); ok {
		return tok, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ch := p.group.DoChan("token", func() (any, error) {
		// A caller that queued behind a finished flight finds the fresh token here.
		if tok, ok := p.cache.Get(p.now()); ok {
			return tok, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return p.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Token implements oauth2.TokenSource. It has no request context; HTTPClient uses AccessToken directly.
func (p *ServiceAccountTokenProvider) Token() (*oauth2.Token, error) {
	return p.token(context.Background())
}

func (p *ServiceAccountTokenProvider) token(ctx context.Context) (*oauth2.Token, error) {
	tok, err := p.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer", Expiry: p.cache.ExpiresAt()}, nil
}

// HTTPClient returns a client that authorizes every request with the provider's token,
// refreshing it under the request's context.
func (p *ServiceAccountTokenProvider) HTTPClient() *http.Client {
	base := p.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   60 * time.Second,
		Transport: &bearerTransport{provider: p, base: base},
	}
}

type bearerTransport struct {
	provider *ServiceAccountTokenProvider
	base     http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.provider.token(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	out := req.Clone(req.Context())
	tok.SetAuthHeader(out)
	return t.base.RoundTrip(out)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (p *ServiceAccountTokenProvider) refresh(ctx context.Context) (string, error) {
	if p.cfg.Email == "" || p.cfg.PrivateKeyPEM == "" {
		return "", fmt.Errorf("service account email and private key are required: %w", errs.ErrConfiguration)
	}

	now := p.now()
	assertion, err := p.signAssertion(now)
	if err != nil {
		p.metrics.TokenRefreshed(metrics.OutcomeError)
		return "", err
	}

	tok, err := p.exchange(ctx, assertion)
	if err != nil {
		p.metrics.TokenRefreshed(metrics.OutcomeError)
		p.logger.Warn("token exchange failed", zap.Error(err))
		return "", err
	}

	expiresAt := now.Add(time.Duration(tok.ExpiresIn)*time.Second - EarlyExpiry)
	p.cache.Store(tok.AccessToken, expiresAt)
	p.metrics.TokenRefreshed(metrics.OutcomeOK)
	p.logger.Debug("access token refreshed", zap.Time("expires_at", expiresAt))
	return tok.AccessToken, nil
}

func (p *ServiceAccountTokenProvider) signAssertion(now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(normalizePEM(p.cfg.PrivateKeyPEM)))
	if err != nil {
		return "", fmt.Errorf("parse service account key: %w (%v)", errs.ErrPrivateKeyInvalid, err)
	}

	claims := jwt.MapClaims{
		"iss":   p.cfg.Email,
		"scope": p.cfg.Scope,
		"aud":   p.cfg.TokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}
	if p.cfg.Subject != "" {
		claims["sub"] = p.cfg.Subject
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w (%v)", errs.ErrPrivateKeyInvalid, err)
	}
	return signed, nil
}

func (p *ServiceAccountTokenProvider) exchange(ctx context.Context, assertion string) (*tokenResponse, error) {
	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", errs.ErrConfiguration)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &errs.UpstreamError{Op: "token exchange", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.UpstreamError{Op: "token exchange", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errs.UpstreamError{Op: "token exchange", Status: resp.StatusCode, Body: string(body)}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return nil, &errs.UpstreamError{Op: "token exchange", Status: resp.StatusCode, Body: string(body), Err: err}
	}
	return &tok, nil
}

// normalizePEM restores newlines in keys pasted into a single-line environment variable.
func normalizePEM(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), `\n`, "\n")
}
