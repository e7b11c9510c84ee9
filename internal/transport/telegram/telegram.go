// Package telegram is the Telegram Bot API transport.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/linkerlin/laterclaw/internal/transport"
)

// MaxMessageLen is Telegram's limit for one text message.
const MaxMessageLen = 4096

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec caps outbound messages per second across all chats.
	RatePerSec int
}

// Transport receives messages by long polling and sends replies.
type Transport struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	log     zerolog.Logger
}

var _ transport.Transport = (*Transport)(nil)

func New(cfg Config, log zerolog.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("telegram handler error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Transport{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

// Run polls for text messages until ctx is done.
func (t *Transport) Run(ctx context.Context, h transport.Handler) error {
	t.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil || m.Sender == nil {
			return nil
		}
		h(ctx, toInbound(m))
		return nil
	})

	go func() {
		<-ctx.Done()
		t.bot.Stop()
	}()
	t.log.Info().Str("bot", t.bot.Me.Username).Msg("polling started")
	t.bot.Start() // blocks until Stop
	t.log.Info().Msg("polling stopped")
	return nil
}

func toInbound(m *tele.Message) transport.Inbound {
	name := m.Sender.Username
	if name == "" {
		name = strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName)
	}
	return transport.Inbound{
		ID:        strconv.Itoa(m.ID),
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		UserID:    strconv.FormatInt(m.Sender.ID, 10),
		UserName:  name,
		Text:      m.Text,
		IsGroup:   m.Chat.Type != tele.ChatPrivate,
	}
}

// Send delivers text to the chat whose id is channelID.
func (t *Transport) Send(ctx context.Context, channelID, text string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", channelID, err)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := t.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("telegram send to %s: %w", channelID, err)
	}
	return nil
}

func (t *Transport) MaxMessageLen() int { return MaxMessageLen }
