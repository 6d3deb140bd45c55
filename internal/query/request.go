package query

// stripSet holds the characters removed from the end of a question.
const stripSet = "?.,'\""

// Request is the structured body sent to the answering service.
type Request struct {
	Type Intent `json:"query_type"`
	Text string `json:"query_text"`
}

// Build packages text and intent into a Request.
// At most one trailing character from stripSet is removed.
func Build(text string, intent Intent) Request {
	if n := len(text); n > 0 && isStripped(text[n-1]) {
		text = text[:n-1]
	}
	return Request{Type: intent, Text: text}
}

// FromText classifies text and builds the matching Request.
func FromText(text string) Request {
	return Build(text, Classify(text))
}

func isStripped(b byte) bool {
	for i := 0; i < len(stripSet); i++ {
		if stripSet[i] == b {
			return true
		}
	}
	return false
}
