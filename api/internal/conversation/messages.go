package conversation

import (
	"fmt"
	"strconv"

	"exam-photo-bot/api/internal/preset"
)

const (
	MsgSelectExam     = "📋 Select Exam:"
	MsgSelectCategory = "🖼 Select Image Type:"
	MsgUpload         = "📤 Upload your image now"
	MsgPleaseStart    = "⚠️ Please start with /start"
	MsgFailed         = "😔 Sorry, I couldn't process that image. Please try again or send another one."
)

// Keyboard is a reply keyboard: rows of button labels. Nil leaves the current
// keyboard of the chat in place.
type Keyboard [][]string

// ExamKeyboard puts one exam per row in store order.
func ExamKeyboard(c *preset.Catalog) Keyboard {
	exams := c.Exams()
	kb := make(Keyboard, 0, len(exams))
	for _, e := range exams {
		kb = append(kb, []string{e})
	}
	return kb
}

func CategoryKeyboard() Keyboard {
	row := make([]string, 0, len(preset.Categories))
	for _, c := range preset.Categories {
		row = append(row, string(c))
	}
	return Keyboard{row}
}

func Caption(exam string, cat preset.Category, p preset.Preset) string {
	return fmt.Sprintf("✅ %s %s ready\n📐 %dx%d px\n📦 ≤ %s KB",
		exam, cat, p.Width, p.Height, strconv.FormatFloat(p.MaxKB, 'f', -1, 64))
}
