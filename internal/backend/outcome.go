package backend

// OutcomeKind tags which variant of Outcome is populated.
type OutcomeKind int

const (
	// OutcomeSuccess carries the answer text.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeBackendError means the service was reached and declined or failed the query.
	OutcomeBackendError
	// OutcomeTransportError means the channel was unreachable or failed.
	OutcomeTransportError
	// OutcomeMalformedOutput means the service replied with an unexpected shape.
	OutcomeMalformedOutput
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeBackendError:
		return "backendError"
	case OutcomeTransportError:
		return "transportError"
	case OutcomeMalformedOutput:
		return "malformedOutput"
	default:
		return "unknown"
	}
}

// Outcome is the normalized result of one dispatch.
// Text is the answer, diagnostic, failure message or raw body depending on Kind.
type Outcome struct {
	Kind OutcomeKind
	Text string
}

// Success returns a success outcome carrying the answer.
func Success(answer string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Text: answer}
}

// BackendError returns a backend error outcome carrying the service's diagnostic.
func BackendError(message string) Outcome {
	return Outcome{Kind: OutcomeBackendError, Text: message}
}

// TransportError returns a transport error outcome carrying the failure message.
func TransportError(message string) Outcome {
	return Outcome{Kind: OutcomeTransportError, Text: message}
}

// MalformedOutput returns a malformed output outcome carrying the raw body.
func MalformedOutput(raw string) Outcome {
	return Outcome{Kind: OutcomeMalformedOutput, Text: raw}
}
