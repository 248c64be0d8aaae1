package texts

import (
	"strings"
	"testing"
)

// Messages are sent without a parse mode, so markup control characters
// would reach users verbatim.
func TestMessagesCarryNoMarkup(t *testing.T) {
	messages := map[string]string{
		"SetPassword":        SetPassword,
		"PasswordTooShort":   PasswordTooShort,
		"Welcome":            Welcome,
		"MainMenu":           MainMenu,
		"MoodQuestion":       MoodQuestion,
		"MoodInvalid":        MoodInvalid,
		"TriggerQuestion":    TriggerQuestion,
		"TriggerTooShort":    TriggerTooShort,
		"ThoughtQuestion":    ThoughtQuestion,
		"Help":               Help,
		"NoWeeklyData":       NoWeeklyData,
		"NoRecentData":       NoRecentData,
		"AdviceUnavailable":  AdviceUnavailable,
		"PaymentRequired":    PaymentRequired,
		"InvoiceTitle":       InvoiceTitle,
		"InvoiceDescription": InvoiceDescription,
		"BackFromInvoice":    BackFromInvoice,
		"InvoiceFailed":      InvoiceFailed,
		"PaymentAccepted":    PaymentAccepted,
		"GenericFailure":     GenericFailure,
		"UnknownAction":      UnknownAction,
	}

	for name, msg := range messages {
		for _, marker := range []string{"*", "_", "`"} {
			if strings.Contains(msg, marker) {
				t.Errorf("%s contains markup marker %q: %q", name, marker, msg)
			}
		}
	}
}
