// Package mapclient talks to the remote map service: one Session per account,
// authenticated with a bearer token, fetching the entities near a location.
package mapclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pogoscan/internal/geo"
	"pogoscan/internal/model"
	logx "pogoscan/pkg/logx"
)

var (
	// ErrAuth means the service rejected the credentials or the token.
	ErrAuth = errors.New("authentication failed")
	// ErrNetwork covers transport failures, bad status codes and
	// undecodable envelopes.
	ErrNetwork = errors.New("map request failed")
	// ErrNotLoggedIn is returned by FetchNearby before a successful Login.
	ErrNotLoggedIn = errors.New("session not logged in")
)

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

type Client struct {
	cfg  Config
	base *url.URL
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("mapclient: base url is required")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("mapclient: base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pogoscan/1"
	}
	return &Client{cfg: cfg, base: u, log: log.With(logx.String("comp", "mapclient"))}, nil
}

// NewSession builds an unauthenticated session for acct. When the account
// has a proxy, both login and fetch go through it.
func (c *Client) NewSession(acct model.Account) (*Session, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if p := strings.TrimSpace(acct.Proxy); p != "" {
		pu, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("mapclient: proxy for %s: %w", acct.Username, err)
		}
		tr.Proxy = http.ProxyURL(pu)
	}
	service := acct.AuthService
	if service == "" {
		service = "ptc"
	}
	return &Session{
		client:  c,
		account: acct,
		service: service,
		http:    &http.Client{Transport: tr, Timeout: c.cfg.Timeout},
		log:     c.log.With(logx.String("user", acct.Username)),
	}, nil
}

// Session is owned by a single worker; methods are still safe to call
// concurrently so status readers can look at TokenExpiry.
type Session struct {
	client  *Client
	account model.Account
	service string
	http    *http.Client
	log     logx.Logger

	mu       sync.Mutex
	token    string
	expiry   time.Time
	position geo.Location
}

type loginRequest struct {
	Username string       `json:"username"`
	Password string       `json:"password"`
	Location geo.Location `json:"location"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // unix millis
}

// Login exchanges the account credentials for a bearer token.
func (s *Session) Login(ctx context.Context) error {
	s.mu.Lock()
	pos := s.position
	s.mu.Unlock()

	var out loginResponse
	err := s.post(ctx, "/auth/"+url.PathEscape(s.service)+"/login", "", loginRequest{
		Username: s.account.Username,
		Password: s.account.Password,
		Location: pos,
	}, &out)
	if err != nil {
		return err
	}
	if out.Token == "" {
		return fmt.Errorf("%w: empty token", ErrAuth)
	}

	s.mu.Lock()
	s.token = out.Token
	s.expiry = time.UnixMilli(out.ExpiresAt)
	s.mu.Unlock()
	s.log.Debug("login ok", logx.Time("expires", time.UnixMilli(out.ExpiresAt)))
	return nil
}

// SetPosition records where the player claims to be.
func (s *Session) SetPosition(loc geo.Location) {
	s.mu.Lock()
	s.position = loc
	s.mu.Unlock()
}

// TokenExpiry is zero when the session has no token.
func (s *Session) TokenExpiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return time.Time{}
	}
	return s.expiry
}

type nearbyRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// FetchNearby returns the map objects visible from loc.
func (s *Session) FetchNearby(ctx context.Context, loc geo.Location) (*Response, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return nil, ErrNotLoggedIn
	}

	var out Response
	err := s.post(ctx, "/map/nearby", token, nearbyRequest{Latitude: loc.Lat, Longitude: loc.Lng, Altitude: loc.Alt}, &out)
	if errors.Is(err, ErrAuth) {
		// Force a fresh login on the next task.
		s.mu.Lock()
		s.token = ""
		s.mu.Unlock()
	}
	if err != nil {
		return nil, err
	}
	out.FetchedAt = time.Now()
	return &out, nil
}

func (s *Session) post(ctx context.Context, path, token string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	u := *s.client.base
	u.Path = strings.TrimRight(u.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.client.cfg.UserAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: http %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: http %d", ErrNetwork, resp.StatusCode)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return fmt.Errorf("%w: empty response", ErrNetwork)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrNetwork, err)
	}
	return nil
}
