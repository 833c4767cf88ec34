package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"exam-photo-bot/api/internal/conversation"
)

// replyKeyboard turns rows of labels into a resized reply keyboard.
func replyKeyboard(kb conversation.Keyboard) tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(kb))
	for _, labels := range kb {
		row := make([]tgbotapi.KeyboardButton, 0, len(labels))
		for _, l := range labels {
			row = append(row, tgbotapi.NewKeyboardButton(l))
		}
		rows = append(rows, row)
	}
	m := tgbotapi.NewReplyKeyboard(rows...)
	m.ResizeKeyboard = true
	return m
}
