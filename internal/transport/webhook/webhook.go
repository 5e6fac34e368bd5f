// Package webhook posts notifications as JSON to a list of URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	kit "pogoscan/internal/transport"
	logx "pogoscan/pkg/logx"
)

const Name = "webhook"

type Config struct {
	URLs    []string
	Timeout time.Duration
}

type Sender struct {
	urls []string
	http *http.Client
	log  logx.Logger
}

// Payload is the body posted to every URL.
type Payload struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Priority int     `json:"priority"`
	Text     string  `json:"text"`
	Lat      float64 `json:"latitude,omitempty"`
	Lng      float64 `json:"longitude,omitempty"`
	Message  any     `json:"message,omitempty"`
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.New("webhook: no urls")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Sender{
		urls: append([]string(nil), cfg.URLs...),
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(logx.String("comp", "webhook")),
	}, nil
}

func (s *Sender) Name() string { return Name }

// Send posts to every URL and joins the failures.
func (s *Sender) Send(ctx context.Context, n kit.Notification) error {
	p := Payload{ID: n.ID, Type: "notification", Priority: n.Priority, Text: n.Text, Message: n.Data}
	if n.Data != nil {
		p.Type = fmt.Sprintf("%T", n.Data)
		if t, ok := n.Data.(interface{ WebhookType() string }); ok {
			p.Type = t.WebhookType()
		}
	}
	if n.Location != nil {
		p.Lat, p.Lng = n.Location.Lat, n.Location.Lng
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	var errs []error
	for _, u := range s.urls {
		if err := s.post(ctx, u, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sender) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return nil
}
