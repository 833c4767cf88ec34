package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"exam-photo-bot/api/internal/conversation"
)

// EventFromUpdate maps an update to a conversation event. Updates the bot does
// not react to (callbacks, other commands, stickers...) yield false.
func EventFromUpdate(upd tgbotapi.Update) (conversation.Event, bool) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return conversation.Event{}, false
	}
	ev := conversation.Event{UserID: msg.Chat.ID, ChatID: msg.Chat.ID}
	if msg.From != nil {
		ev.UserID = msg.From.ID
	}

	switch {
	case msg.IsCommand():
		if msg.Command() != "start" {
			return conversation.Event{}, false
		}
		ev.Kind = conversation.KindStart
	case len(msg.Photo) > 0:
		// the last size is the largest
		ev.Kind = conversation.KindPhoto
		ev.PhotoRef = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil && isImageMIME(msg.Document.MimeType):
		ev.Kind = conversation.KindPhoto
		ev.PhotoRef = msg.Document.FileID
	case msg.Text != "":
		ev.Kind = conversation.KindText
		ev.Text = msg.Text
	default:
		return conversation.Event{}, false
	}
	return ev, true
}

func isImageMIME(m string) bool {
	switch strings.ToLower(strings.TrimSpace(m)) {
	case "image/jpeg", "image/jpg", "image/png":
		return true
	}
	return false
}
