// Package telegram delivers notifications to Telegram chats.
package telegram

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "pogoscan/internal/transport"
	logx "pogoscan/pkg/logx"
)

const Name = "telegram"

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (tests, self-hosted API servers).
	APIURL string
	// Default target when a notification carries none.
	ChatID   int64
	ThreadID int
	// SendLocation follows each message that has a location with a map pin.
	SendLocation bool
	ParseMode    string
}

type Sender struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	// Offline skips the getMe round trip; the bot never polls for updates.
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Sender{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}, nil
}

func (s *Sender) Name() string { return Name }

func (s *Sender) Send(ctx context.Context, n kit.Notification) error {
	to := n.Target
	if to.ChatID == 0 {
		to = kit.ChatTarget{ChatID: s.cfg.ChatID, ThreadID: s.cfg.ThreadID}
	}
	if to.ChatID == 0 {
		return errors.New("telegram: no chat id")
	}
	opt := n.Options
	if opt == nil {
		opt = &kit.SendOptions{ParseMode: s.cfg.ParseMode, DisablePreview: true}
	}

	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	for _, chunk := range splitText(n.Text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.bot.Send(chat, chunk, sendOpt); err != nil {
			return err
		}
	}

	if s.cfg.SendLocation && n.Location != nil {
		pin := &tele.Location{Lat: float32(n.Location.Lat), Lng: float32(n.Location.Lng)}
		if _, err := s.bot.Send(chat, pin, &tele.SendOptions{ThreadID: to.ThreadID}); err != nil {
			s.log.Debug("send location failed", logx.Err(err))
		}
	}
	return nil
}

const textLimit = 4000

// splitText breaks long messages into chunks Telegram accepts, preferring
// newline boundaries and avoiding cuts inside HTML tags.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, tele.ModeHTML) && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
