package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

type UpdateSource interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

// Poller long-polls getUpdates until ctx is done. Errors never stop it; it
// backs off and retries.
type Poller struct {
	Source  UpdateSource
	Timeout int // long polling timeout, seconds
	Log     logrus.FieldLogger

	BaseDelay time.Duration
	MaxDelay  time.Duration
	IdleDelay time.Duration
}

func NewPoller(src UpdateSource, log logrus.FieldLogger) *Poller {
	return &Poller{
		Source:    src,
		Timeout:   30,
		Log:       log,
		BaseDelay: 1 * time.Second,
		MaxDelay:  15 * time.Second,
		IdleDelay: 200 * time.Millisecond,
	}
}

func (p *Poller) Run(ctx context.Context, handle func(tgbotapi.Update)) {
	offset := 0
	for {
		if ctx.Err() != nil {
			p.Log.Info("polling: context cancelled")
			return
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = p.Timeout

		updates, err := p.Source.GetUpdates(u)
		if err != nil {
			d := min(max(retryDelayFromError(err), p.BaseDelay), p.MaxDelay)
			p.Log.WithError(err).Warnf("polling error; retry in %v", d)
			if !sleep(ctx, d) {
				return
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}

		if len(updates) == 0 && !sleep(ctx, p.IdleDelay) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// WebhookPath is a stable secret path derived from the token.
func WebhookPath(token string) string {
	return "/webhook/" + shortHash(token)
}

func shortHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}

// WebhookHandler decodes pushed updates and hands them to handle.
func WebhookHandler(handle func(tgbotapi.Update)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var upd tgbotapi.Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&upd); err != nil {
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}
		handle(upd)
		w.WriteHeader(http.StatusOK)
	})
}

// RegisterWebhook points Telegram at baseURL + WebhookPath(token).
func RegisterWebhook(bot *tgbotapi.BotAPI, baseURL string) (string, error) {
	public := strings.TrimRight(baseURL, "/") + WebhookPath(bot.Token)
	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return "", err
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		return "", err
	}
	return public, nil
}

// DropWebhook clears a previously registered webhook so getUpdates works.
func DropWebhook(bot *tgbotapi.BotAPI) error {
	_, err := bot.Request(tgbotapi.DeleteWebhookConfig{})
	return err
}
