package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ndelin/aide/internal/assistant"
	"github.com/ndelin/aide/internal/domain"
)

// fakeConn is a scripted transport: reads come from a channel, writes are
// decoded and recorded.
type fakeConn struct {
	mu          sync.Mutex
	reads       chan []byte
	writes      []Event
	closeCalls  int
	closeCode   websocket.StatusCode
	closeReason string
	pingErr     error
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16)}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.reads:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	c.mu.Lock()
	c.writes = append(c.writes, ev)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Ping(ctx context.Context) error { return c.pingErr }

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if c.closeCalls == 1 {
		c.closeCode = code
		c.closeReason = reason
	}
	return nil
}

func (c *fakeConn) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) eventTypes() []string {
	events := c.events()
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func (c *fakeConn) closed() (int, websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls, c.closeCode, c.closeReason
}

// fakeRelayer yields a canned update sequence and records requests.
type fakeRelayer struct {
	mu      sync.Mutex
	updates []assistant.Update
	calls   int
	lastReq assistant.Request
}

func (f *fakeRelayer) Run(ctx context.Context, req assistant.Request) iter.Seq[assistant.Update] {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	f.mu.Unlock()
	return func(yield func(assistant.Update) bool) {
		for _, u := range f.updates {
			if !yield(u) {
				return
			}
		}
	}
}

func (f *fakeRelayer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRelayer) request() assistant.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type recoveryCall struct {
	options         []byte
	useAlternatives bool
}

// fakeRunner records executions and returns a fixed outcome.
type fakeRunner struct {
	mu         sync.Mutex
	summary    string
	err        error
	executed   [][]byte
	recoveries []recoveryCall
}

func (f *fakeRunner) Execute(ctx context.Context, userID string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, append([]byte(nil), data...))
	return f.summary, f.err
}

func (f *fakeRunner) ExecuteRecovery(ctx context.Context, userID string, options []byte, useAlternatives bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveries = append(f.recoveries, recoveryCall{append([]byte(nil), options...), useAlternatives})
	return f.summary, f.err
}

func (f *fakeRunner) executions() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executed
}

func (f *fakeRunner) recoveryCalls() []recoveryCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recoveries
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, relay Relayer, runner OperationRunner) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := NewSession(context.Background(), Params{
		UserID: "u1",
		Conn:   conn,
		Relay:  relay,
		Runner: runner,
		Log:    quietLogger(),
	})
	t.Cleanup(func() { s.Terminate(websocket.StatusNormalClosure, "test done") })
	return s, conn
}

func TestSessionStartStop(t *testing.T) {
	relay := &fakeRelayer{}
	s, conn := newTestSession(t, relay, &fakeRunner{})

	s.dispatch(Message{Type: TypeStartConversation})
	if !s.conv.Active() {
		t.Fatal("conversation not active after start")
	}

	s.dispatch(Message{Type: TypeStopConversation})
	if s.conv.Active() {
		t.Error("conversation still active after stop")
	}
	if s.conv.Pending() != nil {
		t.Error("pending operation survived stop")
	}

	types := conn.eventTypes()
	want := []string{EventConversationStarted, EventConversationEnded}
	if len(types) != len(want) || types[0] != want[0] || types[1] != want[1] {
		t.Errorf("event types = %v, want %v", types, want)
	}

	events := conn.events()
	if !events[0].ShouldSpeak || !events[1].ShouldSpeak {
		t.Error("conversation lifecycle events must be spoken")
	}

	turns := s.conv.Turns()
	if len(turns) != 2 || turns[0].Text != welcomeText || turns[1].Text != goodbyeText {
		t.Errorf("turns = %+v, want welcome then goodbye", turns)
	}
}

func TestSessionTextWhileInactive(t *testing.T) {
	relay := &fakeRelayer{}
	s, conn := newTestSession(t, relay, &fakeRunner{})

	s.dispatch(Message{Type: TypeTextInput, Text: "add milk to my list"})

	events := conn.events()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != EventError || events[0].Message != "conversation not active" {
		t.Errorf("event = %+v, want conversation-not-active error", events[0])
	}
	if relay.callCount() != 0 {
		t.Error("relay invoked while inactive")
	}
	if len(s.conv.Turns()) != 0 {
		t.Error("history mutated while inactive")
	}
}

func TestSessionStopWhileInactive(t *testing.T) {
	s, conn := newTestSession(t, &fakeRelayer{}, &fakeRunner{})

	s.dispatch(Message{Type: TypeStopConversation})

	events := conn.events()
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want one error", events)
	}
}

func TestSessionStopPhraseSkipsRelay(t *testing.T) {
	relay := &fakeRelayer{updates: []assistant.Update{
		{Kind: assistant.UpdateFinal, Message: "should never appear"},
	}}
	s, conn := newTestSession(t, relay, &fakeRunner{})

	s.dispatch(Message{Type: TypeStartConversation})
	s.dispatch(Message{Type: TypeTextInput, Text: "Okay GOODBYE then"})

	if s.conv.Active() {
		t.Error("conversation still active after stop phrase")
	}
	if relay.callCount() != 0 {
		t.Error("relay invoked for a stop phrase")
	}

	types := conn.eventTypes()
	want := []string{EventConversationStarted, EventConversationEnded}
	if len(types) != 2 || types[0] != want[0] || types[1] != want[1] {
		t.Errorf("event types = %v, want %v", types, want)
	}
}

func TestSessionTextFlow(t *testing.T) {
	relay := &fakeRelayer{updates: []assistant.Update{
		{Kind: assistant.UpdateProgress, Status: "thinking", Message: "Thinking..."},
		{Kind: assistant.UpdateFinal, Status: "completed", Message: "Task added."},
	}}
	s, conn := newTestSession(t, relay, &fakeRunner{})

	s.dispatch(Message{Type: TypeStartConversation})
	s.dispatch(Message{Type: TypeTextInput, Text: "create a task to buy milk"})

	types := conn.eventTypes()
	want := []string{
		EventConversationStarted,
		EventUserMessage,
		EventAcknowledgment,
		EventProgress,
		EventResponse,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (all: %v)", i, types[i], want[i], types)
		}
	}

	events := conn.events()
	if events[1].Text != "create a task to buy milk" {
		t.Errorf("echo text = %q", events[1].Text)
	}
	if events[1].ShouldSpeak {
		t.Error("user echo must not be spoken")
	}
	if !events[2].ShouldSpeak {
		t.Error("acknowledgment must be spoken")
	}
	if events[3].ShouldSpeak {
		t.Error("progress must not be spoken")
	}
	if events[4].Message != "Task added." || !events[4].ShouldSpeak {
		t.Errorf("final response = %+v", events[4])
	}

	req := relay.request()
	if req.Utterance != "create a task to buy milk" {
		t.Errorf("relay utterance = %q", req.Utterance)
	}
	if len(req.History) != 1 || req.History[0].Text != welcomeText {
		t.Errorf("relay history = %+v, want only the welcome turn", req.History)
	}

	turns := s.conv.Turns()
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	if turns[1].Role != domain.RoleUser || turns[2].Role != domain.RoleAssistant {
		t.Errorf("turn roles = %q, %q", turns[1].Role, turns[2].Role)
	}
	if turns[2].Text != "Task added." {
		t.Errorf("assistant turn = %q", turns[2].Text)
	}
}

func TestSessionEmptyText(t *testing.T) {
	s, conn := newTestSession(t, &fakeRelayer{}, &fakeRunner{})

	s.dispatch(Message{Type: TypeStartConversation})
	s.dispatch(Message{Type: TypeTextInput, Text: "   "})

	events := conn.events()
	last := events[len(events)-1]
	if last.Type != EventError || last.Message != "empty message" {
		t.Errorf("last event = %+v, want empty-message error", last)
	}
}

func TestSessionVoiceAliases(t *testing.T) {
	relay := &fakeRelayer{updates: []assistant.Update{
		{Kind: assistant.UpdateFinal, Message: "Done."},
	}}
	s, conn := newTestSession(t, relay, &fakeRunner{})

	s.dispatch(Message{Type: "voice_start_conversation"})
	if !s.conv.Active() {
		t.Fatal("voice_start_conversation did not start the conversation")
	}

	s.dispatch(Message{Type: "voice_text_input", Text: "plan something nice for the weekend"})
	if relay.callCount() != 1 {
		t.Errorf("relay calls = %d, want 1", relay.callCount())
	}

	for _, ev := range conn.events() {
		if strings.HasPrefix(ev.Type, "voice_") {
			t.Errorf("outbound event carries voice prefix: %q", ev.Type)
		}
	}
}

func TestSessionUnknownMessageType(t *testing.T) {
	s, conn := newTestSession(t, &fakeRelayer{}, &fakeRunner{})

	s.dispatch(Message{Type: "levitate"})

	events := conn.events()
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want one error", events)
	}
	if !bytes.Contains([]byte(events[0].Message), []byte("levitate")) {
		t.Errorf("error message %q does not name the type", events[0].Message)
	}
}

func TestSessionRateLimited(t *testing.T) {
	relay := &fakeRelayer{updates: []assistant.Update{
		{Kind: assistant.UpdateFinal, Message: "Done."},
	}}
	conn := newFakeConn()
	s := NewSession(context.Background(), Params{
		UserID:  "u1",
		Conn:    conn,
		Relay:   relay,
		Runner:  &fakeRunner{},
		Limiter: NewLimiter(1, time.Minute),
		Log:     quietLogger(),
	})
	t.Cleanup(func() { s.Terminate(websocket.StatusNormalClosure, "test done") })

	s.dispatch(Message{Type: TypeStartConversation})
	s.dispatch(Message{Type: TypeTextInput, Text: "add milk to my list"})
	s.dispatch(Message{Type: TypeTextInput, Text: "add eggs to my list"})

	if relay.callCount() != 1 {
		t.Errorf("relay calls = %d, want 1", relay.callCount())
	}

	events := conn.events()
	last := events[len(events)-1]
	if last.Type != EventError || last.Message != "rate limit exceeded" {
		t.Errorf("last event = %+v, want rate-limit error", last)
	}
}

func TestSessionConfirmationConfirmed(t *testing.T) {
	staged := json.RawMessage(`{"action":"create_task","params":{"title":"buy milk"}}`)
	relay := &fakeRelayer{updates: []assistant.Update{
		{Kind: assistant.UpdateFinal, Message: "Shall I add it?", ConfirmationData: staged},
	}}
	runner := &fakeRunner{summary: "I've added \"buy milk\" to your tasks."}
	s, conn := newTestSession(t, relay, runner)

	s.dispatch(Message{Type: TypeStartConversation})
	s.dispatch(Message{Type: TypeTextInput, Text: "put buy milk on my task list please"})

	pending := s.conv.Pending()
	if pending == nil || pending.Kind != PendingConfirmation {
		t.Fatalf("pending = %+v, want staged confirmation", pending)
	}

	s.dispatch(Message{Type: TypeConfirmationResponse, Response: "yes please"})

	executed := runner.executions()
	if len(executed) != 1 {
		t.Fatalf("runner executed %d times, want 1", len(executed))
	}
	if !bytes.Equal(executed[0], staged) {
		t.Errorf("runner received %s, want staged %s", executed[0], staged)
	}
	if s.conv.Pending() != nil {
		t.Error("pending operation not cleared after confirmation")
	}

	events := conn.events()
	last := events[len(events)-1]
	if last.Type != EventOperationCompleted || last.Message != runner.summary || !last.ShouldSpeak {
		t.Errorf("last event = %+v, want spoken operation_completed", last)
	}
}

func TestSessionConfirmationDeclined(t *testing.T) {
	staged := json.RawMessage(`{"action":"delete_task","params":{"taskId":"t1"}}`)
	relay := &fakeRelayer{updates: []assistant.Update{
		{Kind: assistant.UpdateFinal, Message: "Delete it?", ConfirmationData: staged},
	}}
	runner := &fakeRunner{}
	s, conn := newTestSession(t, relay, runner)

	s.dispatch(Message{Type: TypeStartConversation})
	s.dispatch(Message{Type: TypeTextInput, Text: "please remove the groceries task for me"})
	s.dispatch(Message{Type: TypeConfirmationResponse, Response: "no, never mind"})

	if len(runner.executions()) != 0 {
		t.Error("runner executed a declined operation")
	}
	if s.conv.Pending() != nil {
		t.Error("pending operation not cleared after decline")
	}

	events := conn.events()
	last := events[len(events)-1]
	if last.Type != EventOperationCancelled || !last.ShouldSpeak {
		t.Errorf("last event = %+v, want spoken operation_cancelled", last)
	}
}

func TestSessionConfirmationAmbiguous(t *testing.T) {
	staged := json.RawMessage(`{"action":"create_event","params":{"title":"sync"}}`)
	relay := &fakeRelayer{updates: []assistant.Update{
		{Kind: assistant.UpdateFinal, Message: "Book it?", ConfirmationData: staged},
	}}
	runner := &fakeRunner{}
	s, conn := newTestSession(t, relay, runner)

	s.dispatch(Message{Type: TypeStartConversation})
	s.dispatch(Message{Type: TypeTextInput, Text: "set up a meeting with the design team"})

	// Ambiguous replies must leave pending untouched, however many arrive.
	for i := 0; i < 3; i++ {
		s.dispatch(Message{Type: TypeConfirmationResponse, Response: "hmm maybe"})
	}

	if len(runner.executions()) != 0 {
		t.Error("runner executed despite ambiguity")
	}
	pending := s.conv.Pending()
	if pending == nil || !bytes.Equal(pending.Data, staged) {
		t.Fatalf("pending mutated: %+v", pending)
	}

	var clarifications []Event
	for _, ev := range conn.events() {
		if ev.Type == EventConfirmationClarification {
			clarifications = append(clarifications, ev)
		}
	}
	if len(clarifications) != 3 {
		t.Fatalf("got %d clarifications, want 3", len(clarifications))
	}
	for i, ev := range clarifications {
		if !bytes.Equal(ev.ConfirmationData, staged) {
			t.Errorf("clarification %d data = %s, want byte-identical %s", i, ev.ConfirmationData, staged)
		}
	}
}

func TestSessionConfirmationWithoutPending(t *testing.T) {
	s, conn := newTestSession(t, &fakeRelayer{}, &fakeRunner{})

	s.dispatch(Message{Type: TypeStartConversation})
	s.dispatch(Message{Type: TypeConfirmationResponse, Response: "yes"})

	events := conn.events()
	last := events[len(events)-1]
	if last.Type != EventError || last.Message != "no pending operation" {
		t.Errorf("last event = %+v, want no-pending error", last)
	}
}

func TestSessionConfirmationFailureApologizes(t *testing.T) {
	staged := json.RawMessage(`{"action":"create_task","params":{"title":"x"}}`)
	relay := &fakeRelayer{updates: []assistant.Update{
		{Kind: assistant.UpdateFinal, Message: "Add it?", ConfirmationData: staged},
	}}
	runner := &fakeRunner{err: io.ErrUnexpectedEOF}
	s, conn := newTestSession(t, relay, runner)

	s.dispatch(Message{Type: TypeStartConversation})
	s.dispatch(Message{Type: TypeTextInput, Text: "add a task to call the dentist"})
	s.dispatch(Message{Type: TypeConfirmationResponse, Response: "yes"})

	events := conn.events()
	last := events[len(events)-1]
	if last.Type != EventOperationCompleted || !last.IsError {
		t.Fatalf("last event = %+v, want errored operation_completed", last)
	}
	if last.Message != assistant.ApologyText {
		t.Errorf("message = %q, want canned apology", last.Message)
	}
	if bytes.Contains([]byte(last.Message), []byte("EOF")) {
		t.Error("raw error leaked to the client")
	}
}

func TestSessionRecoveryChoices(t *testing.T) {
	options := json.RawMessage(`{"operation":{"action":"create_event","params":{"title":"sync"}},"alternatives":{"title":"sync later"}}`)

	tests := []struct {
		name            string
		choice          string
		wantType        string
		wantRecoveries  int
		useAlternatives bool
	}{
		{"use alternatives", "Use Alternatives", EventRecoveryCompleted, 1, true},
		{"retry", "retry", EventRecoveryCompleted, 1, false},
		{"skip", "skip", EventRecoverySkipped, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{summary: "Rescheduled."}
			s, conn := newTestSession(t, &fakeRelayer{}, runner)

			s.dispatch(Message{Type: TypeStartConversation})
			s.conv.SetPending(&PendingOperation{Kind: PendingRecovery, Data: options})

			s.dispatch(Message{Type: TypeRecoveryChoice, Choice: tt.choice})

			recoveries := runner.recoveryCalls()
			if len(recoveries) != tt.wantRecoveries {
				t.Fatalf("recovery calls = %d, want %d", len(recoveries), tt.wantRecoveries)
			}
			if tt.wantRecoveries > 0 {
				if !bytes.Equal(recoveries[0].options, options) {
					t.Errorf("recovery options = %s, want staged", recoveries[0].options)
				}
				if recoveries[0].useAlternatives != tt.useAlternatives {
					t.Errorf("useAlternatives = %v, want %v", recoveries[0].useAlternatives, tt.useAlternatives)
				}
			}

			events := conn.events()
			last := events[len(events)-1]
			if last.Type != tt.wantType {
				t.Errorf("last event type = %q, want %q", last.Type, tt.wantType)
			}
			if s.conv.Pending() != nil {
				t.Error("pending operation not cleared")
			}
		})
	}
}

func TestSessionRecoveryUnrecognizedChoice(t *testing.T) {
	options := json.RawMessage(`{"operation":{"action":"create_event","params":{}}}`)
	runner := &fakeRunner{}
	s, conn := newTestSession(t, &fakeRelayer{}, runner)

	s.dispatch(Message{Type: TypeStartConversation})
	s.conv.SetPending(&PendingOperation{Kind: PendingRecovery, Data: options})

	for i := 0; i < 2; i++ {
		s.dispatch(Message{Type: TypeRecoveryChoice, Choice: "do the thing"})
	}

	if len(runner.recoveryCalls()) != 0 {
		t.Error("runner invoked for unrecognized choice")
	}
	pending := s.conv.Pending()
	if pending == nil || !bytes.Equal(pending.Data, options) {
		t.Fatalf("pending mutated: %+v", pending)
	}

	var clarifications int
	for _, ev := range conn.events() {
		if ev.Type == EventRecoveryClarification {
			clarifications++
			if !bytes.Equal(ev.RecoveryOptions, options) {
				t.Errorf("clarification options = %s, want byte-identical", ev.RecoveryOptions)
			}
		}
	}
	if clarifications != 2 {
		t.Errorf("clarifications = %d, want 2", clarifications)
	}
}

func TestSessionRunPingAndMalformed(t *testing.T) {
	s, conn := newTestSession(t, &fakeRelayer{}, &fakeRunner{})

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.Run()
	}()

	conn.reads <- []byte(`{not json`)
	conn.reads <- []byte(`{"type":"ping"}`)

	waitForEventType(t, conn, EventPong)

	events := conn.events()
	var sawError bool
	for _, ev := range events {
		if ev.Type == EventError && ev.Message == "invalid message format" {
			sawError = true
		}
	}
	if !sawError {
		t.Errorf("no malformed-message error in %v", conn.eventTypes())
	}

	close(conn.reads)
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after read EOF")
	}
}

func TestSessionTerminateOnce(t *testing.T) {
	s, conn := newTestSession(t, &fakeRelayer{}, &fakeRunner{})

	s.Terminate(websocket.StatusGoingAway, "ping timeout")
	s.Terminate(websocket.StatusNormalClosure, "session ended")

	calls, code, reason := conn.closed()
	if calls != 1 {
		t.Fatalf("Close called %d times, want 1", calls)
	}
	if code != websocket.StatusGoingAway || reason != "ping timeout" {
		t.Errorf("close = (%d, %q), want first terminate to win", code, reason)
	}
}

func waitForEventType(t *testing.T, conn *fakeConn, eventType string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range conn.events() {
			if ev.Type == eventType {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q event, got %v", eventType, conn.eventTypes())
}
