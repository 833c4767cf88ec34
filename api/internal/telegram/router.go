package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"exam-photo-bot/api/internal/conversation"
)

// maxDownloadBytes matches the Bot API limit for getFile downloads.
const maxDownloadBytes = 20 << 20

// Bot is the part of *tgbotapi.BotAPI the client needs.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// Client adapts the Bot API to conversation.Transport.
type Client struct {
	Bot          Bot
	Token        string
	FileEndpoint string // format with token and file path
	HTTP         *http.Client
	MaxDownload  int64
}

var _ conversation.Transport = (*Client)(nil)

func NewClient(bot *tgbotapi.BotAPI) *Client {
	return &Client{
		Bot:          bot,
		Token:        bot.Token,
		FileEndpoint: tgbotapi.FileEndpoint,
		HTTP:         &http.Client{Timeout: 60 * time.Second},
		MaxDownload:  maxDownloadBytes,
	}
}

func (c *Client) SendText(_ context.Context, chatID int64, text string, kb conversation.Keyboard) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if kb != nil {
		msg.ReplyMarkup = replyKeyboard(kb)
	}
	if _, err := c.Bot.Send(msg); err != nil {
		return fmt.Errorf("sendMessage: %w", err)
	}
	return nil
}

func (c *Client) SendPhoto(_ context.Context, chatID int64, path, caption string) error {
	ph := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	ph.Caption = caption
	if _, err := c.Bot.Send(ph); err != nil {
		return fmt.Errorf("sendPhoto: %w", err)
	}
	return nil
}
