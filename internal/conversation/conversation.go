// Package conversation holds the chat transcript and drives one query at a time
// through classification, dispatch and normalization.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/schoolinfo/internal/backend"
	"github.com/ashureev/schoolinfo/internal/domain"
	"github.com/ashureev/schoolinfo/internal/query"
)

var (
	// ErrEmptyInput is returned for blank submissions. The log is unchanged.
	ErrEmptyInput = errors.New("empty input")
	// ErrInFlight is returned while a previous submission awaits its reply.
	ErrInFlight = errors.New("a request is already in flight")
	// ErrDiscarded is returned when the conversation was reset before the reply arrived.
	ErrDiscarded = errors.New("reply discarded after reset")
)

// Dispatcher performs one backend exchange and always yields an outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, req query.Request) backend.Outcome
}

// Snapshot is a copy of the visible conversation state.
type Snapshot struct {
	Messages []domain.Message `json:"messages"`
	InFlight bool             `json:"in_flight"`
}

// Conversation is an ordered message log with single-flight submission.
type Conversation struct {
	key        string
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	messages   []domain.Message
	nextID     int64
	inFlight   bool
	generation uint64
	lastActive time.Time
	subs       map[int]chan Snapshot
	nextSub    int
	closed     bool
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithKey sets the identifier used in logs and dispatch records.
func WithKey(key string) Option {
	return func(c *Conversation) { c.key = key }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) { c.logger = logger }
}

// WithClock overrides the time source for message timestamps and idle tracking.
func WithClock(now func() time.Time) Option {
	return func(c *Conversation) { c.now = now }
}

// New creates a conversation holding only the welcome message.
func New(d Dispatcher, opts ...Option) *Conversation {
	c := &Conversation{
		dispatcher: d,
		logger:     slog.Default(),
		now:        time.Now,
		subs:       make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.messages = []domain.Message{c.newMessageLocked(domain.WelcomeText, domain.SenderAssistant)}
	c.lastActive = c.now()
	return c
}

// Key returns the conversation identifier.
func (c *Conversation) Key() string { return c.key }

// Ref returns the digest of the key used in logs and dispatch records.
func (c *Conversation) Ref() string { return domain.ConversationRef(c.key) }

// Submit appends text as a user message and waits for the assistant reply.
//
// Blank input returns ErrEmptyInput and a submission while another is pending
// returns ErrInFlight; neither changes the log. If Reset is called before the
// reply arrives, the reply is dropped and ErrDiscarded is returned. At most one
// dispatch is outstanding per conversation, including across a reset.
func (c *Conversation) Submit(ctx context.Context, text string) (*domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrInFlight
	}
	c.messages = append(c.messages, c.newMessageLocked(text, domain.SenderUser))
	c.inFlight = true
	c.lastActive = c.now()
	gen := c.generation
	c.publishLocked()
	c.mu.Unlock()

	intent := query.Classify(text)
	req := query.Build(text, intent)

	trace := backend.TraceFromContext(ctx)
	if trace.ConversationKey == "" {
		trace.ConversationKey = c.key
		ctx = backend.ContextWithTrace(ctx, trace)
	}

	outcome := c.dispatcher.Dispatch(ctx, req)
	reply := backend.Normalize(outcome)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		c.logger.Info("Dropping reply for reset conversation",
			"conversation_ref", c.Ref(),
			"query_type", intent,
			"outcome", outcome.Kind.String())
		c.inFlight = false
		c.lastActive = c.now()
		c.publishLocked()
		return nil, ErrDiscarded
	}

	msg := c.newMessageLocked(reply, domain.SenderAssistant)
	c.messages = append(c.messages, msg)
	c.inFlight = false
	c.lastActive = c.now()
	c.publishLocked()
	return &msg, nil
}

// Reset replaces the log with a fresh welcome message and abandons any
// pending reply. It is always permitted. A pending dispatch keeps the
// conversation in flight until it resolves.
func (c *Conversation) Reset() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.messages = []domain.Message{c.newMessageLocked(domain.WelcomeText, domain.SenderAssistant)}
	c.lastActive = c.now()
	c.publishLocked()

	c.logger.Debug("Conversation reset", "conversation_ref", c.Ref())
	return c.snapshotLocked()
}

// Snapshot returns a copy of the current state.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// InFlight reports whether a submission is awaiting its reply.
func (c *Conversation) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// LastActive returns when the conversation last changed.
func (c *Conversation) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Subscribe returns a channel that receives the current snapshot and then a
// snapshot after every change. Slow readers only see the latest state. The
// returned function unsubscribes and closes the channel.
func (c *Conversation) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// close ends every subscription. Used when the registry evicts the conversation.
func (c *Conversation) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

func (c *Conversation) newMessageLocked(content string, sender domain.Sender) domain.Message {
	c.nextID++
	return domain.Message{
		ID:        c.nextID,
		Content:   content,
		Sender:    sender,
		CreatedAt: c.now().UTC(),
	}
}

func (c *Conversation) snapshotLocked() Snapshot {
	msgs := make([]domain.Message, len(c.messages))
	copy(msgs, c.messages)
	return Snapshot{Messages: msgs, InFlight: c.inFlight}
}

// publishLocked delivers the current snapshot to every subscriber without
// blocking, replacing any snapshot the reader has not consumed yet.
func (c *Conversation) publishLocked() {
	if len(c.subs) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
