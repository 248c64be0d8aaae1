package convo

import "mood-bot/internal/telegram"

// CallbackAction is the closed set of inline-button actions. New
// actions are added here and matched exhaustively in the engine.
type CallbackAction int

const (
	ActionUnknown CallbackAction = iota
	ActionTrack
	ActionReport
	ActionAIAdvice
	ActionHelp
	ActionPay
	ActionBackFromInvoice
	ActionBackToMenu
)

// ParseCallbackAction maps raw callback data onto the action enum.
// Unrecognized data yields ActionUnknown rather than an error.
func ParseCallbackAction(data string) CallbackAction {
	switch data {
	case telegram.CallbackTrack:
		return ActionTrack
	case telegram.CallbackReport:
		return ActionReport
	case telegram.CallbackAIAdvice:
		return ActionAIAdvice
	case telegram.CallbackHelp:
		return ActionHelp
	case telegram.CallbackPay:
		return ActionPay
	case telegram.CallbackBackFromInvoice:
		return ActionBackFromInvoice
	case telegram.CallbackBackToMenu:
		return ActionBackToMenu
	default:
		return ActionUnknown
	}
}

func (a CallbackAction) String() string {
	switch a {
	case ActionTrack:
		return "track"
	case ActionReport:
		return "report"
	case ActionAIAdvice:
		return "ai_advice"
	case ActionHelp:
		return "help"
	case ActionPay:
		return "pay"
	case ActionBackFromInvoice:
		return "back_from_invoice"
	case ActionBackToMenu:
		return "back_to_menu"
	default:
		return "unknown"
	}
}
