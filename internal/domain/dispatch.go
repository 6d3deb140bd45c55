package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DispatchRecord is the operational trace of one backend exchange.
// It deliberately omits the question text.
type DispatchRecord struct {
	ID string `json:"id"`
	// ConversationRef is a digest of the conversation key. The key embeds the
	// client's cookie, so it is never stored or served.
	ConversationRef string        `json:"conversation_ref,omitempty"`
	RequestID       string        `json:"request_id,omitempty"`
	QueryType       string        `json:"query_type"`
	Transport       string        `json:"transport"`
	Outcome         string        `json:"outcome"`
	Diagnostic      string        `json:"diagnostic,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Failed returns true if the exchange did not produce an answer.
func (r *DispatchRecord) Failed() bool {
	return r.Outcome != "success"
}

// ConversationRef returns a stable, non-reversible reference for a
// conversation key. Empty keys map to "".
func ConversationRef(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
