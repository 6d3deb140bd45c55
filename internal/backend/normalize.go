package backend

import "strings"

const (
	// GenericFailure is shown when the service failed without a usable diagnostic.
	GenericFailure = "Sorry, I couldn't process that request."
	// Apology is shown for transport and malformed-output failures.
	Apology = "Sorry, there was an error processing your request. Please try again."
)

// Normalize turns an outcome into the text displayed to the parent.
// Raw transport failures and malformed bodies are never displayed.
func Normalize(o Outcome) string {
	switch o.Kind {
	case OutcomeSuccess:
		if o.Text == "" {
			return GenericFailure
		}
		return o.Text
	case OutcomeBackendError:
		if strings.TrimSpace(o.Text) == "" {
			return GenericFailure
		}
		return o.Text
	default:
		return Apology
	}
}

// Succeeded reports whether the outcome carries an answer.
func Succeeded(o Outcome) bool {
	return o.Kind == OutcomeSuccess
}
