// Package session implements the real-time conversation protocol: the
// per-user session registry, the per-connection worker and read loop,
// liveness monitoring, rate limiting and transcript recording.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ndelin/aide/internal/assistant"
	"github.com/ndelin/aide/internal/domain"
	"github.com/ndelin/aide/internal/metrics"
	"github.com/ndelin/aide/internal/store"
)

const (
	// inboxSize bounds queued messages per session. The read loop never
	// blocks on a full inbox; overflow is answered with an error event so
	// liveness pongs keep flowing during long relays.
	inboxSize = 32

	writeTimeout = 10 * time.Second
)

const (
	declinedText        = "Okay, I won't do that."
	skippedText         = "Okay, skipping that."
	confirmClarifyText  = "Sorry, I didn't catch that. Should I go ahead?"
	recoveryClarifyText = "You can say use alternatives, retry, or skip."
)

// Conn is the transport a session talks through. *websocket.Conn satisfies
// it via the wsConn adapter; tests substitute scripted fakes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Relayer streams assistant updates for one utterance.
type Relayer interface {
	Run(ctx context.Context, req assistant.Request) iter.Seq[assistant.Update]
}

// OperationRunner executes staged operations once the user has confirmed
// them or picked a recovery path.
type OperationRunner interface {
	Execute(ctx context.Context, userID string, data []byte) (string, error)
	ExecuteRecovery(ctx context.Context, userID string, options []byte, useAlternatives bool) (string, error)
}

// Params carries the dependencies for a session.
type Params struct {
	UserID     string
	Conn       Conn
	Relay      Relayer
	Runner     OperationRunner
	Limiter    *Limiter
	Transcript TranscriptLogger
	Repo       store.Repository
	Log        *slog.Logger
}

// Session is one live WebSocket connection for a user. A single worker
// goroutine consumes the inbox in FIFO order, so message handling and
// relays are strictly sequential per session.
type Session struct {
	userID     string
	connID     string
	conn       Conn
	conv       *Conversation
	relay      Relayer
	runner     OperationRunner
	limiter    *Limiter
	transcript TranscriptLogger
	repo       store.Repository

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan Message
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	log *slog.Logger
}

// NewSession creates a session bound to ctx. Canceling ctx, directly or via
// Terminate, stops the worker and aborts any in-flight relay.
func NewSession(ctx context.Context, p Params) *Session {
	sctx, cancel := context.WithCancel(ctx)

	if p.Transcript == nil {
		p.Transcript = noopTranscriptLogger{}
	}
	if p.Log == nil {
		p.Log = slog.Default()
	}

	return &Session{
		userID:     p.UserID,
		connID:     uuid.NewString(),
		conn:       p.Conn,
		conv:       NewConversation(),
		relay:      p.Relay,
		runner:     p.Runner,
		limiter:    p.Limiter,
		transcript: p.Transcript,
		repo:       p.Repo,
		ctx:        sctx,
		cancel:     cancel,
		inbox:      make(chan Message, inboxSize),
		done:       make(chan struct{}),
		log:        p.Log,
	}
}

// UserID returns the authenticated user this session belongs to.
func (s *Session) UserID() string { return s.userID }

// ConnectionID returns the unique id assigned to this connection.
func (s *Session) ConnectionID() string { return s.connID }

// Run pumps the connection until it closes: the worker goroutine drains the
// inbox while the calling goroutine reads frames. It returns once both have
// stopped.
func (s *Session) Run() {
	go s.worker()
	s.readLoop()
	s.cancel()
	<-s.done
}

// Terminate closes the connection with the given code and stops the
// session. Safe to call from any goroutine, once wins.
func (s *Session) Terminate(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.conn.Close(code, reason); err != nil {
			s.log.Debug("Session close failed", "error", err, "user_id", s.userID)
		}
	})
}

func (s *Session) worker() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			s.dispatch(msg)
		}
	}
}

func (s *Session) readLoop() {
	for {
		data, err := s.conn.Read(s.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || s.ctx.Err() != nil {
				s.log.Debug("Session connection closed", "user_id", s.userID)
			} else {
				s.log.Warn("Session read failed", "error", err, "user_id", s.userID)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(errorEvent("invalid message format"))
			continue
		}

		// Answer pings inline so they are never stuck behind a relay.
		if canonicalType(msg.Type) == TypePing {
			s.send(newEvent(EventPong, "", false))
			continue
		}

		select {
		case s.inbox <- msg:
		default:
			s.send(errorEvent("too many queued messages"))
			continue
		}

		s.touchLastSeen()
	}
}

// dispatch handles one inbound message on the worker goroutine. Exported
// behavior is strictly sequential: a relay in progress delays everything
// queued behind it.
func (s *Session) dispatch(msg Message) {
	switch canonicalType(msg.Type) {
	case TypePing:
		s.send(newEvent(EventPong, "", false))
	case TypeStartConversation:
		welcome := s.conv.Start()
		s.send(newEvent(EventConversationStarted, welcome, true))
	case TypeStopConversation:
		if !s.conv.Active() {
			s.send(errorEvent("conversation not active"))
			return
		}
		s.endConversation()
	case TypeTextInput:
		s.logInbound(TypeTextInput, msg.Text)
		s.handleText(msg.Text)
	case TypeConfirmationResponse:
		s.logInbound(TypeConfirmationResponse, msg.Response)
		s.handleConfirmation(msg)
	case TypeRecoveryChoice:
		s.logInbound(TypeRecoveryChoice, msg.Choice)
		s.handleRecovery(msg)
	default:
		s.send(errorEvent(fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

func (s *Session) handleText(text string) {
	if !s.conv.Active() {
		s.send(errorEvent("conversation not active"))
		return
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		s.send(errorEvent("empty message"))
		return
	}
	if containsStopPhrase(trimmed) {
		s.endConversation()
		return
	}
	if s.limiter != nil && !s.limiter.Allow(s.userID) {
		s.send(errorEvent("rate limit exceeded"))
		return
	}

	// Snapshot history before recording the utterance; the oracle receives
	// the utterance separately and must not see it twice.
	history := s.conv.Recent(recentTurns)
	s.conv.AppendTurn(domain.RoleUser, trimmed)
	s.send(userMessageEvent(trimmed))

	if ack := assistant.ClassifyAck(trimmed); ack != "" {
		s.send(newEvent(EventAcknowledgment, ack, true))
	}

	req := assistant.Request{Utterance: trimmed, History: history}
	for update := range s.relay.Run(s.ctx, req) {
		s.handleUpdate(update)
	}
}

func (s *Session) handleUpdate(update assistant.Update) {
	switch update.Kind {
	case assistant.UpdateProgress:
		s.send(newEvent(EventProgress, update.Message, false))
	case assistant.UpdateFinal:
		s.conv.AppendTurn(domain.RoleAssistant, update.Message)

		ev := newEvent(EventResponse, update.Message, true)
		ev.IsError = update.IsError
		if len(update.ConfirmationData) > 0 {
			ev.ConfirmationData = update.ConfirmationData
			s.conv.SetPending(&PendingOperation{
				Kind:   PendingConfirmation,
				Prompt: update.Message,
				Data:   update.ConfirmationData,
			})
		} else if len(update.RecoveryOptions) > 0 {
			ev.RecoveryOptions = update.RecoveryOptions
			s.conv.SetPending(&PendingOperation{
				Kind:   PendingRecovery,
				Prompt: update.Message,
				Data:   update.RecoveryOptions,
			})
		}
		s.send(ev)
	}
}

func (s *Session) handleConfirmation(msg Message) {
	if !s.conv.Active() {
		s.send(errorEvent("conversation not active"))
		return
	}
	pending := s.conv.Pending()
	if pending == nil || pending.Kind != PendingConfirmation {
		s.send(errorEvent("no pending operation"))
		return
	}

	switch assistant.ClassifyConfirmation(msg.Response) {
	case assistant.DecisionConfirmed:
		// Execute the server-staged payload, never the client's copy.
		summary, err := s.runner.Execute(s.ctx, s.userID, pending.Data)
		s.conv.ClearPending()
		if err != nil {
			s.log.Warn("Confirmed operation failed", "error", err, "user_id", s.userID)
			summary = assistant.ApologyText
		}
		s.conv.AppendTurn(domain.RoleAssistant, summary)
		ev := newEvent(EventOperationCompleted, summary, true)
		ev.IsError = err != nil
		s.send(ev)
	case assistant.DecisionDeclined:
		s.conv.ClearPending()
		s.conv.AppendTurn(domain.RoleAssistant, declinedText)
		s.send(newEvent(EventOperationCancelled, declinedText, true))
	default:
		ev := newEvent(EventConfirmationClarification, confirmClarifyText, true)
		ev.ConfirmationData = pending.Data
		s.send(ev)
	}
}

func (s *Session) handleRecovery(msg Message) {
	if !s.conv.Active() {
		s.send(errorEvent("conversation not active"))
		return
	}
	pending := s.conv.Pending()
	if pending == nil || pending.Kind != PendingRecovery {
		s.send(errorEvent("no pending operation"))
		return
	}

	switch choice := assistant.NormalizeRecoveryChoice(msg.Choice); choice {
	case assistant.RecoveryUseAlternatives, assistant.RecoveryRetry:
		summary, err := s.runner.ExecuteRecovery(s.ctx, s.userID, pending.Data, choice == assistant.RecoveryUseAlternatives)
		s.conv.ClearPending()
		if err != nil {
			s.log.Warn("Recovery operation failed", "error", err, "user_id", s.userID, "choice", choice)
			summary = assistant.ApologyText
		}
		s.conv.AppendTurn(domain.RoleAssistant, summary)
		ev := newEvent(EventRecoveryCompleted, summary, true)
		ev.IsError = err != nil
		s.send(ev)
	case assistant.RecoverySkip:
		s.conv.ClearPending()
		s.conv.AppendTurn(domain.RoleAssistant, skippedText)
		s.send(newEvent(EventRecoverySkipped, skippedText, true))
	default:
		ev := newEvent(EventRecoveryClarification, recoveryClarifyText, true)
		ev.RecoveryOptions = pending.Data
		s.send(ev)
	}
}

func (s *Session) endConversation() {
	goodbye := s.conv.Stop()
	s.send(newEvent(EventConversationEnded, goodbye, true))
}

// send serializes an event and writes it to the connection. Writes from the
// worker, the pong fast-path and out-of-band senders share one mutex.
func (s *Session) send(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("Failed to marshal event", "error", err, "type", ev.Type)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, data); err != nil {
		s.log.Debug("Event write failed", "error", err, "type", ev.Type, "user_id", s.userID)
		return
	}
	metrics.RecordEventSent(ev.Type)

	if ev.Type != EventPong {
		if content := ev.Message; content != "" {
			s.transcript.Log(TranscriptEntry{
				UserID:       s.userID,
				ConnectionID: s.connID,
				Direction:    "outbound",
				EventType:    ev.Type,
				TextRaw:      content,
			})
		} else if ev.Text != "" {
			s.transcript.Log(TranscriptEntry{
				UserID:       s.userID,
				ConnectionID: s.connID,
				Direction:    "outbound",
				EventType:    ev.Type,
				TextRaw:      ev.Text,
			})
		}
	}
}

// SendEvent delivers an out-of-band event to this session, for callers that
// found it through the registry.
func (s *Session) SendEvent(ev Event) {
	s.send(ev)
}

func (s *Session) logInbound(eventType, content string) {
	if content == "" {
		return
	}
	s.transcript.Log(TranscriptEntry{
		UserID:       s.userID,
		ConnectionID: s.connID,
		Direction:    "inbound",
		EventType:    eventType,
		TextRaw:      content,
	})
}

// touchLastSeen updates the user's last-seen timestamp off the hot path.
func (s *Session) touchLastSeen() {
	if s.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.UpdateLastSeen(ctx, s.userID, time.Now()); err != nil {
			s.log.Warn("Failed to update last seen", "error", err, "user_id", s.userID)
		}
	}()
}
