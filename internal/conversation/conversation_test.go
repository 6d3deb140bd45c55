package conversation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/schoolinfo/internal/backend"
	"github.com/ashureev/schoolinfo/internal/domain"
	"github.com/ashureev/schoolinfo/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubDispatcher answers immediately and remembers every request.
type stubDispatcher struct {
	mu       sync.Mutex
	outcome  backend.Outcome
	requests []query.Request
	traces   []backend.Trace
}

func (s *stubDispatcher) Dispatch(ctx context.Context, req query.Request) backend.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	s.traces = append(s.traces, backend.TraceFromContext(ctx))
	return s.outcome
}

// gateDispatcher blocks each dispatch until the test answers its call.
type gateDispatcher struct {
	started chan *gateCall

	mu          sync.Mutex
	outstanding int
	peak        int
}

type gateCall struct {
	req   query.Request
	reply chan backend.Outcome
}

func newGateDispatcher() *gateDispatcher {
	return &gateDispatcher{started: make(chan *gateCall, 1)}
}

func (g *gateDispatcher) Dispatch(_ context.Context, req query.Request) backend.Outcome {
	g.mu.Lock()
	g.outstanding++
	g.peak = max(g.peak, g.outstanding)
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.outstanding--
		g.mu.Unlock()
	}()

	call := &gateCall{req: req, reply: make(chan backend.Outcome, 1)}
	g.started <- call
	return <-call.reply
}

func (g *gateDispatcher) peakOutstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

type submitResult struct {
	msg *domain.Message
	err error
}

func submitAsync(c *Conversation, text string) <-chan submitResult {
	ch := make(chan submitResult, 1)
	go func() {
		msg, err := c.Submit(context.Background(), text)
		ch <- submitResult{msg, err}
	}()
	return ch
}

func TestNew_StartsWithWelcome(t *testing.T) {
	c := New(&stubDispatcher{}, WithLogger(quietLogger()))

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, domain.WelcomeText, snap.Messages[0].Content)
	assert.Equal(t, domain.SenderAssistant, snap.Messages[0].Sender)
	assert.False(t, snap.InFlight)
}

func TestSubmit_Success(t *testing.T) {
	d := &stubDispatcher{outcome: backend.Success("Math: A, Science: B+")}
	c := New(d, WithKey("anon:tab"), WithLogger(quietLogger()))

	reply, err := c.Submit(context.Background(), "What are my grades?")
	require.NoError(t, err)
	assert.Equal(t, "Math: A, Science: B+", reply.Content)
	assert.Equal(t, domain.SenderAssistant, reply.Sender)

	require.Len(t, d.requests, 1)
	assert.Equal(t, query.Request{Type: query.IntentGrades, Text: "What are my grades"}, d.requests[0])
	assert.Equal(t, "anon:tab", d.traces[0].ConversationKey)

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "What are my grades?", snap.Messages[1].Content)
	assert.True(t, snap.Messages[1].IsUser())
	assert.Equal(t, "Math: A, Science: B+", snap.Messages[2].Content)
	assert.False(t, snap.InFlight)
}

func TestSubmit_KeepsCallerTrace(t *testing.T) {
	d := &stubDispatcher{outcome: backend.Success("ok")}
	c := New(d, WithKey("anon:tab"), WithLogger(quietLogger()))

	ctx := backend.ContextWithTrace(context.Background(), backend.Trace{ConversationKey: "custom", RequestID: "r1"})
	_, err := c.Submit(ctx, "grades")
	require.NoError(t, err)
	assert.Equal(t, backend.Trace{ConversationKey: "custom", RequestID: "r1"}, d.traces[0])
}

func TestSubmit_FailuresBecomeAssistantMessages(t *testing.T) {
	tests := []struct {
		name    string
		outcome backend.Outcome
		want    string
	}{
		{"backend diagnostic", backend.BackendError("No events found"), "No events found"},
		{"backend without diagnostic", backend.BackendError(""), backend.GenericFailure},
		{"transport", backend.TransportError("connection refused"), backend.Apology},
		{"malformed", backend.MalformedOutput("<html>"), backend.Apology},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(&stubDispatcher{outcome: tt.outcome}, WithLogger(quietLogger()))

			reply, err := c.Submit(context.Background(), "When is the next event?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply.Content)

			snap := c.Snapshot()
			require.Len(t, snap.Messages, 3)
			assert.Equal(t, tt.want, snap.Messages[2].Content)
			assert.False(t, snap.InFlight)
		})
	}
}

func TestSubmit_EmptyInputIsNoOp(t *testing.T) {
	d := &stubDispatcher{}
	c := New(d, WithLogger(quietLogger()))

	for _, text := range []string{"", "   ", "\t\n"} {
		_, err := c.Submit(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
	assert.Len(t, c.Snapshot().Messages, 1)
	assert.Empty(t, d.requests)
}

func TestSubmit_LogGrowsByTwoPerSubmission(t *testing.T) {
	c := New(&stubDispatcher{outcome: backend.Success("ok")}, WithLogger(quietLogger()))

	const n = 5
	for i := 0; i < n; i++ {
		_, err := c.Submit(context.Background(), fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}

	msgs := c.Snapshot().Messages
	require.Len(t, msgs, 2*n+1)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].ID, msgs[i-1].ID)
		wantUser := i%2 == 1
		assert.Equal(t, wantUser, msgs[i].IsUser(), "message %d", i)
	}
}

func TestSubmit_RejectsWhileInFlight(t *testing.T) {
	g := newGateDispatcher()
	c := New(g, WithLogger(quietLogger()))

	first := submitAsync(c, "What are my grades?")
	call := <-g.started
	assert.Equal(t, query.IntentGrades, call.req.Type)

	snap := c.Snapshot()
	assert.True(t, snap.InFlight)
	require.Len(t, snap.Messages, 2)

	_, err := c.Submit(context.Background(), "When is dismissal?")
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Len(t, c.Snapshot().Messages, 2)

	call.reply <- backend.Success("A")
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, "A", res.msg.Content)

	snap = c.Snapshot()
	assert.False(t, snap.InFlight)
	assert.Len(t, snap.Messages, 3)
}

func TestReset_DiscardsPendingReply(t *testing.T) {
	g := newGateDispatcher()
	c := New(g, WithLogger(quietLogger()))

	pending := submitAsync(c, "What are my grades?")
	staleCall := <-g.started

	snap := c.Reset()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, domain.WelcomeText, snap.Messages[0].Content)
	assert.True(t, snap.InFlight, "the abandoned dispatch is still outstanding")

	// No second dispatch may start until the stale one resolves.
	msg, err := c.Submit(context.Background(), "When is the next event?")
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Nil(t, msg)
	assert.Len(t, c.Snapshot().Messages, 1)

	staleCall.reply <- backend.Success("stale answer")
	res := <-pending
	assert.ErrorIs(t, res.err, ErrDiscarded)
	assert.Nil(t, res.msg)

	snap = c.Snapshot()
	assert.False(t, snap.InFlight)
	require.Len(t, snap.Messages, 1)

	fresh := submitAsync(c, "When is the next event?")
	freshCall := <-g.started
	assert.Equal(t, query.IntentUpcomingEvents, freshCall.req.Type)
	freshCall.reply <- backend.Success("fresh answer")
	res = <-fresh
	require.NoError(t, res.err)

	msgs := c.Snapshot().Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "When is the next event?", msgs[1].Content)
	assert.Equal(t, "fresh answer", msgs[2].Content)
	for _, m := range msgs {
		assert.NotEqual(t, "stale answer", m.Content)
	}
}

func TestReset_KeepsOneOutstandingDispatch(t *testing.T) {
	g := newGateDispatcher()
	c := New(g, WithLogger(quietLogger()))

	pending := submitAsync(c, "grades")
	staleCall := <-g.started

	for range 3 {
		c.Reset()
		_, err := c.Submit(context.Background(), "when is dismissal")
		assert.ErrorIs(t, err, ErrInFlight)
	}

	staleCall.reply <- backend.Success("late")
	assert.ErrorIs(t, (<-pending).err, ErrDiscarded)
	assert.Equal(t, 1, g.peakOutstanding())
}

func TestReset_StaleReplyNotifiesSubscribers(t *testing.T) {
	g := newGateDispatcher()
	c := New(g, WithLogger(quietLogger()))
	ch, cancel := c.Subscribe()
	defer cancel()
	<-ch

	pending := submitAsync(c, "grades")
	staleCall := <-g.started
	c.Reset()

	staleCall.reply <- backend.Success("late")
	<-pending

	latest := <-ch
	assert.False(t, latest.InFlight)
	assert.Len(t, latest.Messages, 1)
}

func TestReset_IDsKeepIncreasing(t *testing.T) {
	c := New(&stubDispatcher{outcome: backend.Success("ok")}, WithLogger(quietLogger()))
	_, err := c.Submit(context.Background(), "grades")
	require.NoError(t, err)
	before := c.Snapshot().Messages

	after := c.Reset().Messages
	require.Len(t, after, 1)
	assert.Greater(t, after[0].ID, before[len(before)-1].ID)
}

func TestSnapshot_IsACopy(t *testing.T) {
	c := New(&stubDispatcher{}, WithLogger(quietLogger()))
	snap := c.Snapshot()
	snap.Messages[0].Content = "tampered"
	assert.Equal(t, domain.WelcomeText, c.Snapshot().Messages[0].Content)
}

func TestSubscribe_ReceivesChanges(t *testing.T) {
	c := New(&stubDispatcher{outcome: backend.Success("ok")}, WithLogger(quietLogger()))

	ch, cancel := c.Subscribe()
	defer cancel()

	initial := <-ch
	assert.Len(t, initial.Messages, 1)

	_, err := c.Submit(context.Background(), "grades")
	require.NoError(t, err)

	// Latest wins: the in-flight snapshot may have been replaced.
	latest := <-ch
	assert.Len(t, latest.Messages, 3)
	assert.False(t, latest.InFlight)

	c.Reset()
	assert.Len(t, (<-ch).Messages, 1)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestSubscribe_ClosedConversation(t *testing.T) {
	c := New(&stubDispatcher{}, WithLogger(quietLogger()))
	ch, cancel := c.Subscribe()
	<-ch

	c.close()
	_, open := <-ch
	assert.False(t, open)
	cancel()

	late, lateCancel := c.Subscribe()
	_, open = <-late
	assert.False(t, open)
	lateCancel()
}

func TestLastActive_UsesClock(t *testing.T) {
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	c := New(&stubDispatcher{outcome: backend.Success("ok")}, WithLogger(quietLogger()), WithClock(func() time.Time { return now }))
	assert.Equal(t, now, c.LastActive())

	now = now.Add(time.Minute)
	_, err := c.Submit(context.Background(), "grades")
	require.NoError(t, err)
	assert.Equal(t, now, c.LastActive())
	assert.Equal(t, now, c.Snapshot().Messages[2].CreatedAt)
}
