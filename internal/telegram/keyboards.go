package telegram

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data values understood by the conversation engine.
const (
	CallbackTrack           = "track"
	CallbackReport          = "report"
	CallbackAIAdvice        = "ai_advice"
	CallbackHelp            = "help"
	CallbackPay             = "pay"
	CallbackBackFromInvoice = "back_from_invoice"
	CallbackBackToMenu      = "back_to_menu"
)

// MainMenuKeyboard is the top-level inline menu.
func MainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📝 Записать настроение", CallbackTrack),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 Отчёт за неделю", CallbackReport),
			tgbotapi.NewInlineKeyboardButtonData("🤖 Совет AI", CallbackAIAdvice),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Помощь", CallbackHelp),
		),
	)
}

// MoodKeyboard offers the 1..10 score as two rows of reply buttons.
func MoodKeyboard() tgbotapi.ReplyKeyboardMarkup {
	row1 := make([]tgbotapi.KeyboardButton, 0, 5)
	row2 := make([]tgbotapi.KeyboardButton, 0, 5)
	for i := 1; i <= 10; i++ {
		btn := tgbotapi.NewKeyboardButton(strconv.Itoa(i))
		if i <= 5 {
			row1 = append(row1, btn)
		} else {
			row2 = append(row2, btn)
		}
	}
	kb := tgbotapi.NewReplyKeyboard(row1, row2)
	kb.ResizeKeyboard = true
	return kb
}

// PaymentKeyboard prompts a top-up.
func PaymentKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Оплатить 1 ⭐", CallbackPay),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", CallbackBackFromInvoice),
		),
	)
}

// AIAccessKeyboard is shown after a successful payment.
func AIAccessKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🤖 Получить AI-совет", CallbackAIAdvice),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔙 Назад в меню", CallbackBackToMenu),
		),
	)
}

// BackFromInvoiceKeyboard accompanies a live invoice.
func BackFromInvoiceKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("◀️ Назад", CallbackBackFromInvoice),
		),
	)
}

// RemoveKeyboard hides any reply keyboard.
func RemoveKeyboard() tgbotapi.ReplyKeyboardRemove {
	return tgbotapi.NewRemoveKeyboard(true)
}
