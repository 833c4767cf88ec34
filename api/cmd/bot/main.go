package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"exam-photo-bot/api/internal/artifact"
	"exam-photo-bot/api/internal/config"
	"exam-photo-bot/api/internal/conversation"
	"exam-photo-bot/api/internal/httpserver"
	"exam-photo-bot/api/internal/preset"
	"exam-photo-bot/api/internal/resize"
	"exam-photo-bot/api/internal/session"
	"exam-photo-bot/api/internal/store"
	"exam-photo-bot/api/internal/telegram"
)

const (
	journalRetention = 90 * 24 * time.Hour
	shutdownTimeout  = 10 * time.Second
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(lvl)
	} else {
		logrus.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		logrus.SetLevel(logrus.InfoLevel)
	}
	log := logrus.StandardLogger()

	catalog, err := preset.Load(cfg.PresetsPath)
	if err != nil {
		log.Fatal(err)
	}
	log.WithField("exams", len(catalog.Exams())).Info("presets loaded")

	tmp, err := artifact.Open(cfg.TempDir)
	if err != nil {
		log.Fatal(err)
	}
	if n, err := tmp.Sweep(); err != nil {
		log.WithError(err).Warn("temp sweep failed")
	} else if n > 0 {
		log.WithField("files", n).Info("removed leftover temp files")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		pinger  httpserver.Pinger
		journal conversation.Journal
	)
	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()
		rl := store.NewResizeLog(db)
		if err := rl.EnsureSchema(ctx); err != nil {
			log.Fatalf("resize journal schema: %v", err)
		}
		log.Infof("db connected: %s", store.SafeDSNSummary(cfg.DatabaseURL))
		pinger, journal = db, rl
		go purgeJournal(ctx, rl, log)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatal(err)
	}
	bot.Debug = false
	log.WithField("bot", bot.Self.UserName).Info("authorized")

	router := &conversation.Router{
		Transport:       telegram.NewClient(bot),
		Catalog:         catalog,
		Sessions:        session.NewStore(),
		Engine:          resize.New(),
		Temp:            tmp,
		Journal:         journal,
		Log:             log,
		DownloadTimeout: cfg.DownloadTimeout,
	}
	disp := conversation.NewDispatcher(router, cfg.MaxConcurrent, log)

	g, gctx := errgroup.WithContext(ctx)
	handle := func(upd tgbotapi.Update) {
		if ev, ok := telegram.EventFromUpdate(upd); ok {
			disp.Submit(gctx, ev)
		}
	}

	var webhook http.Handler
	if cfg.WebhookURL != "" {
		public, err := telegram.RegisterWebhook(bot, cfg.WebhookURL)
		if err != nil {
			log.Fatalf("set webhook: %v", err)
		}
		webhook = telegram.WebhookHandler(handle)
		log.Infof("webhook registered at %s", public)
	} else if err := telegram.DropWebhook(bot); err != nil {
		log.WithError(err).Warn("deleteWebhook failed")
	}

	addr := "0.0.0.0:" + cfg.Port
	srv := httpserver.New(addr, httpserver.NewMux(pinger, telegram.WebhookPath(bot.Token), webhook))

	g.Go(func() error {
		log.Infof("health server listening on %s/healthz", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if webhook == nil {
		g.Go(func() error {
			telegram.NewPoller(bot, log).Run(gctx, handle)
			return nil
		})
	}

	log.Info("🤖 Bot is running...")
	err = g.Wait()
	disp.Wait()
	if err != nil {
		log.Fatal(err)
	}
	log.Info("bot stopped")
}

func purgeJournal(ctx context.Context, rl *store.ResizeLog, log logrus.FieldLogger) {
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		n, err := rl.PurgeOlderThan(ctx, journalRetention)
		if err != nil {
			log.WithError(err).Warn("resize journal purge failed")
		} else if n > 0 {
			log.WithField("rows", n).Info("resize journal purged")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
