package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/schoolinfo/internal/domain"
)

// Key joins a user and tab session into a registry key.
func Key(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Registry holds one Conversation per client, created on first use.
type Registry struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	convs map[string]*Conversation
}

// NewRegistry creates an empty registry whose conversations share d.
func NewRegistry(d Dispatcher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dispatcher: d,
		logger:     logger,
		now:        time.Now,
		convs:      make(map[string]*Conversation),
	}
}

// Get returns the conversation for a user and session, creating it if needed.
func (r *Registry) Get(userID, sessionID string) *Conversation {
	key := Key(userID, sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.convs[key]; ok {
		return c
	}
	c := New(r.dispatcher, WithKey(key), WithLogger(r.logger), WithClock(r.now))
	r.convs[key] = c
	r.logger.Debug("Conversation created", "conversation_ref", domain.ConversationRef(key))
	return c
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

// Sweep drops conversations idle for longer than idle. Conversations with a
// pending reply are kept. It returns the number removed.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var expired []*Conversation
	for key, c := range r.convs {
		if c.InFlight() || c.LastActive().After(cutoff) {
			continue
		}
		delete(r.convs, key)
		expired = append(expired, c)
	}
	r.mu.Unlock()

	for _, c := range expired {
		c.close()
		r.logger.Debug("Conversation expired", "conversation_ref", c.Ref())
	}
	return len(expired)
}
