package conversation

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"exam-photo-bot/api/internal/artifact"
	"exam-photo-bot/api/internal/preset"
	"exam-photo-bot/api/internal/resize"
	"exam-photo-bot/api/internal/session"
	"exam-photo-bot/api/internal/store"
)

type Kind int

const (
	KindStart Kind = iota
	KindText
	KindPhoto
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindText:
		return "text"
	case KindPhoto:
		return "photo"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one inbound chat event. Sessions are keyed by UserID, replies go to
// ChatID.
type Event struct {
	Kind     Kind
	UserID   int64
	ChatID   int64
	Text     string
	PhotoRef string
}

// Transport is the chat collaborator.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, kb Keyboard) error
	SendPhoto(ctx context.Context, chatID int64, path, caption string) error
	Download(ctx context.Context, ref string, dst io.Writer) error
}

type Journal interface {
	Record(ctx context.Context, e store.Entry) error
}

const journalTimeout = 5 * time.Second

type Router struct {
	Transport Transport
	Catalog   *preset.Catalog
	Sessions  *session.Store
	Engine    *resize.Engine
	Temp      *artifact.Dir
	Journal   Journal // optional
	Log       logrus.FieldLogger

	DownloadTimeout time.Duration
}

func (r *Router) log() logrus.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	return logrus.StandardLogger()
}

// Handle processes one event. Failures are reported to the user and logged; a
// panic is recovered so other events keep being served.
func (r *Router) Handle(ctx context.Context, ev Event) {
	log := r.log().WithFields(logrus.Fields{
		"user_id": ev.UserID,
		"chat_id": ev.ChatID,
		"event":   ev.Kind.String(),
	})
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Errorf("event handler panicked\n%s", debug.Stack())
			if ev.Kind == KindPhoto {
				r.replyFailed(ctx, log, ev.ChatID)
			}
		}
	}()

	switch ev.Kind {
	case KindStart:
		r.sendText(ctx, log, ev.ChatID, MsgSelectExam, ExamKeyboard(r.Catalog))
	case KindText:
		r.onText(ctx, log, ev)
	case KindPhoto:
		r.onPhoto(ctx, log, ev)
	}
}

func (r *Router) onText(ctx context.Context, log logrus.FieldLogger, ev Event) {
	if r.Catalog.Has(ev.Text) {
		r.Sessions.SelectExam(ev.UserID, ev.Text)
		log.WithField("exam", ev.Text).Debug("exam selected")
		r.sendText(ctx, log, ev.ChatID, MsgSelectCategory, CategoryKeyboard())
		return
	}
	if cat, ok := preset.ParseCategory(ev.Text); ok && r.Sessions.SelectCategory(ev.UserID, cat) {
		log.WithField("category", cat).Debug("category selected")
		r.sendText(ctx, log, ev.ChatID, MsgUpload, nil)
		return
	}
	// anything else, including a category without an exam, is ignored
}

func (r *Router) onPhoto(ctx context.Context, log logrus.FieldLogger, ev Event) {
	s, ok := r.Sessions.Get(ev.UserID)
	if !ok {
		r.sendText(ctx, log, ev.ChatID, MsgPleaseStart, nil)
		return
	}
	if s.Category == "" {
		r.sendText(ctx, log, ev.ChatID, MsgSelectCategory, CategoryKeyboard())
		return
	}
	log = log.WithFields(logrus.Fields{"exam": s.Exam, "category": s.Category})

	p, err := r.Catalog.Lookup(s.Exam, s.Category)
	if err != nil {
		log.WithError(err).Error("preset lookup failed")
		r.sendText(ctx, log, ev.ChatID, MsgFailed, nil)
		return
	}

	start := time.Now()
	res, err := r.process(ctx, ev, s, p)
	if err != nil {
		log.WithError(err).Error("resize failed")
		r.sendText(ctx, log, ev.ChatID, MsgFailed, nil)
		return
	}
	log.WithFields(logrus.Fields{
		"quality":  res.Quality,
		"attempts": res.Attempts,
		"size_kb":  fmt.Sprintf("%.1f", res.SizeKB()),
		"max_kb":   p.MaxKB,
		"took":     time.Since(start).String(),
	}).Info("resized image delivered")

	if r.Journal != nil {
		jctx, cancel := context.WithTimeout(ctx, journalTimeout)
		defer cancel()
		err := r.Journal.Record(jctx, store.Entry{
			UserID:    ev.UserID,
			Exam:      s.Exam,
			Category:  string(s.Category),
			Width:     res.Width,
			Height:    res.Height,
			Quality:   res.Quality,
			SizeBytes: len(res.Data),
			WithinMax: res.SizeKB() <= p.MaxKB,
		})
		if err != nil {
			log.WithError(err).Warn("resize journal write failed")
		}
	}
}

// process downloads the upload, resizes it and sends it back. Both scratch
// files are removed before it returns, whatever the outcome.
func (r *Router) process(ctx context.Context, ev Event, s session.Session, p preset.Preset) (resize.Result, error) {
	in, err := r.Temp.Create(fmt.Sprintf("%d_input", ev.UserID))
	if err != nil {
		return resize.Result{}, fmt.Errorf("temp input: %w", err)
	}
	defer in.Release()

	dctx := ctx
	if r.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, r.DownloadTimeout)
		defer cancel()
	}
	if err := r.Transport.Download(dctx, ev.PhotoRef, in); err != nil {
		return resize.Result{}, fmt.Errorf("download: %w", err)
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return resize.Result{}, fmt.Errorf("rewind input: %w", err)
	}

	res, err := r.Engine.Resize(in, p)
	if err != nil {
		return resize.Result{}, err
	}

	out, err := r.Temp.Create(fmt.Sprintf("%d_output", ev.UserID))
	if err != nil {
		return resize.Result{}, fmt.Errorf("temp output: %w", err)
	}
	defer out.Release()
	if _, err := out.Write(res.Data); err != nil {
		return resize.Result{}, fmt.Errorf("write output: %w", err)
	}

	if err := r.Transport.SendPhoto(ctx, ev.ChatID, out.Path(), Caption(s.Exam, s.Category, p)); err != nil {
		return resize.Result{}, fmt.Errorf("send photo: %w", err)
	}
	return res, nil
}

// replyFailed runs from a recover, so a transport that panics again is only
// logged.
func (r *Router) replyFailed(ctx context.Context, log logrus.FieldLogger, chatID int64) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("failure reply panicked")
		}
	}()
	r.sendText(ctx, log, chatID, MsgFailed, nil)
}

func (r *Router) sendText(ctx context.Context, log logrus.FieldLogger, chatID int64, text string, kb Keyboard) {
	if err := r.Transport.SendText(ctx, chatID, text, kb); err != nil {
		log.WithError(err).Warn("send text failed")
	}
}
