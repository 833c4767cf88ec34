package telegram

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-photo-bot/api/internal/conversation"
)

type fakeBot struct {
	sent  []tgbotapi.Chattable
	files map[string]string
	err   error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, b.err
}

func (b *fakeBot) GetFile(cfg tgbotapi.FileConfig) (tgbotapi.File, error) {
	p, ok := b.files[cfg.FileID]
	if !ok {
		return tgbotapi.File{}, errors.New("Bad Request: invalid file_id")
	}
	return tgbotapi.File{FileID: cfg.FileID, FilePath: p}, nil
}

func textMessage(uid, chat int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{From: &tgbotapi.User{ID: uid}, Chat: &tgbotapi.Chat{ID: chat}, Text: text}
}

func TestEventFromUpdate(t *testing.T) {
	start := textMessage(1, 100, "/start")
	start.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}}
	help := textMessage(1, 100, "/help")
	help.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}}
	photo := &tgbotapi.Message{
		From: &tgbotapi.User{ID: 2}, Chat: &tgbotapi.Chat{ID: 200},
		Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "medium"}, {FileID: "large"}},
	}
	doc := &tgbotapi.Message{
		From: &tgbotapi.User{ID: 3}, Chat: &tgbotapi.Chat{ID: 300},
		Document: &tgbotapi.Document{FileID: "doc", MimeType: "image/png"},
	}
	pdf := &tgbotapi.Message{
		From: &tgbotapi.User{ID: 3}, Chat: &tgbotapi.Chat{ID: 300},
		Document: &tgbotapi.Document{FileID: "pdf", MimeType: "application/pdf"},
	}
	noFrom := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 400}, Text: "examA"}

	tests := []struct {
		name string
		upd  tgbotapi.Update
		want conversation.Event
		ok   bool
	}{
		{"start", tgbotapi.Update{Message: start}, conversation.Event{Kind: conversation.KindStart, UserID: 1, ChatID: 100}, true},
		{"other command", tgbotapi.Update{Message: help}, conversation.Event{}, false},
		{"text", tgbotapi.Update{Message: textMessage(1, 100, "SSC CGL")}, conversation.Event{Kind: conversation.KindText, UserID: 1, ChatID: 100, Text: "SSC CGL"}, true},
		{"largest photo", tgbotapi.Update{Message: photo}, conversation.Event{Kind: conversation.KindPhoto, UserID: 2, ChatID: 200, PhotoRef: "large"}, true},
		{"image document", tgbotapi.Update{Message: doc}, conversation.Event{Kind: conversation.KindPhoto, UserID: 3, ChatID: 300, PhotoRef: "doc"}, true},
		{"pdf document", tgbotapi.Update{Message: pdf}, conversation.Event{}, false},
		{"no sender", tgbotapi.Update{Message: noFrom}, conversation.Event{Kind: conversation.KindText, UserID: 400, ChatID: 400, Text: "examA"}, true},
		{"callback only", tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "x"}}, conversation.Event{}, false},
		{"empty message", tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}}}, conversation.Event{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EventFromUpdate(tt.upd)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendTextWithKeyboard(t *testing.T) {
	bot := &fakeBot{}
	c := &Client{Bot: bot}

	require.NoError(t, c.SendText(context.Background(), 10, "pick", conversation.Keyboard{{"photo", "signature"}}))
	require.NoError(t, c.SendText(context.Background(), 10, "upload", nil))

	require.Len(t, bot.sent, 2)
	first := bot.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(10), first.ChatID)
	assert.Equal(t, "pick", first.Text)
	kb := first.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	assert.True(t, kb.ResizeKeyboard)
	require.Len(t, kb.Keyboard, 1)
	require.Len(t, kb.Keyboard[0], 2)
	assert.Equal(t, "photo", kb.Keyboard[0][0].Text)
	assert.Equal(t, "signature", kb.Keyboard[0][1].Text)

	second := bot.sent[1].(tgbotapi.MessageConfig)
	assert.Nil(t, second.ReplyMarkup)
}

func TestSendPhoto(t *testing.T) {
	bot := &fakeBot{}
	c := &Client{Bot: bot}

	require.NoError(t, c.SendPhoto(context.Background(), 7, "/tmp/out.jpg", "✅ done"))
	ph := bot.sent[0].(tgbotapi.PhotoConfig)
	assert.Equal(t, int64(7), ph.ChatID)
	assert.Equal(t, "✅ done", ph.Caption)
	assert.Equal(t, tgbotapi.FilePath("/tmp/out.jpg"), ph.File)

	bot.err = errors.New("Forbidden: bot was blocked by the user")
	assert.ErrorContains(t, c.SendPhoto(context.Background(), 7, "/tmp/out.jpg", ""), "blocked")
}

func newFileServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file/botTOKEN/photos/file_1.jpg" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload(t *testing.T) {
	srv := newFileServer(t, "jpeg-bytes", http.StatusOK)
	c := &Client{
		Bot:          &fakeBot{files: map[string]string{"id1": "photos/file_1.jpg"}},
		Token:        "TOKEN",
		FileEndpoint: srv.URL + "/file/bot%s/%s",
		HTTP:         srv.Client(),
		MaxDownload:  1024,
	}

	var buf bytes.Buffer
	require.NoError(t, c.Download(context.Background(), "id1", &buf))
	assert.Equal(t, "jpeg-bytes", buf.String())

	assert.ErrorContains(t, c.Download(context.Background(), "missing", &buf), "getFile")
}

func TestDownloadFailures(t *testing.T) {
	files := map[string]string{"id1": "photos/file_1.jpg"}

	t.Run("status", func(t *testing.T) {
		srv := newFileServer(t, "gone", http.StatusNotFound)
		c := &Client{Bot: &fakeBot{files: files}, Token: "TOKEN", FileEndpoint: srv.URL + "/file/bot%s/%s"}
		err := c.Download(context.Background(), "id1", &bytes.Buffer{})
		assert.ErrorContains(t, err, "status 404")
	})

	t.Run("too large", func(t *testing.T) {
		srv := newFileServer(t, strings.Repeat("x", 100), http.StatusOK)
		c := &Client{Bot: &fakeBot{files: files}, Token: "TOKEN", FileEndpoint: srv.URL + "/file/bot%s/%s", MaxDownload: 10}
		err := c.Download(context.Background(), "id1", &bytes.Buffer{})
		assert.ErrorContains(t, err, "exceeds 10 bytes")
	})

	t.Run("cancelled", func(t *testing.T) {
		srv := newFileServer(t, "x", http.StatusOK)
		c := &Client{Bot: &fakeBot{files: files}, Token: "TOKEN", FileEndpoint: srv.URL + "/file/bot%s/%s"}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := c.Download(ctx, "id1", &bytes.Buffer{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryDelayFromError(t *testing.T) {
	assert.Zero(t, retryDelayFromError(nil))
	assert.Equal(t, 7*time.Second, retryDelayFromError(&tgbotapi.Error{
		Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 7},
	}))
	assert.Equal(t, 12*time.Second, retryDelayFromError(errors.New("Too Many Requests: retry after 12")))
	assert.Equal(t, 3*time.Second, retryDelayFromError(errors.New("too many requests")))
	assert.Equal(t, 2*time.Second, retryDelayFromError(timeoutErr{}))
	assert.Equal(t, 1*time.Second, retryDelayFromError(errors.New("connection reset")))
}

type fakeSource struct {
	mu      sync.Mutex
	calls   []int
	batches [][]tgbotapi.Update
	errs    []error
	cancel  context.CancelFunc
}

func (s *fakeSource) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cfg.Offset)
	i := len(s.calls) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.batches) {
		return s.batches[i], nil
	}
	s.cancel()
	return nil, nil
}

func TestPollerAdvancesOffsetAndRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{
		cancel: cancel,
		errs:   []error{nil, errors.New("connection reset"), nil},
		batches: [][]tgbotapi.Update{
			{{UpdateID: 5}, {UpdateID: 6}},
			nil,
			{{UpdateID: 9}},
		},
	}
	logger, hook := test.NewNullLogger()
	p := NewPoller(src, logger)
	p.BaseDelay, p.MaxDelay, p.IdleDelay = time.Millisecond, time.Millisecond, time.Millisecond

	var seen []int
	p.Run(ctx, func(u tgbotapi.Update) { seen = append(seen, u.UpdateID) })

	assert.Equal(t, []int{5, 6, 9}, seen)
	assert.Equal(t, []int{0, 7, 7, 10}, src.calls)
	assert.Contains(t, hook.Entries[0].Message, "polling error")
}

func TestWebhookHandler(t *testing.T) {
	var got []tgbotapi.Update
	h := WebhookHandler(func(u tgbotapi.Update) { got = append(got, u) })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/x",
		strings.NewReader(`{"update_id": 42, "message": {"message_id": 1, "chat": {"id": 9}, "text": "examA"}}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, got, 1)
	assert.Equal(t, 42, got[0].UpdateID)
	assert.Equal(t, "examA", got[0].Message.Text)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/x", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, got, 1)
}

func TestWebhookPath(t *testing.T) {
	p := WebhookPath("123:abc")
	assert.Equal(t, p, WebhookPath("123:abc"))
	assert.NotEqual(t, p, WebhookPath("123:abd"))
	assert.True(t, strings.HasPrefix(p, "/webhook/"))
	assert.Len(t, strings.TrimPrefix(p, "/webhook/"), 16)

	// FNV-1a 64 of the empty string
	assert.Equal(t, "cbf29ce484222325", shortHash(""))
}
