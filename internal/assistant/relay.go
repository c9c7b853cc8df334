package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ndelin/aide/internal/metrics"
)

// Canned relay texts. Raw upstream errors never reach the client; these
// stand in for them.
const (
	thinkingText   = "Thinking..."
	processingText = "Processing your request..."
	executingText  = "Working on it..."
	completedText  = "All done."
	noAnswerText   = "I'm here to help. What would you like to do?"

	// ApologyText is the spoken fallback when an assistant-side operation
	// or the oracle itself fails.
	ApologyText = "I'm sorry, I ran into a problem handling that. Please try again in a moment."
)

// Oracle stream statuses.
const (
	statusThinking       = "thinking"
	statusProcessing     = "processing"
	statusExecuting      = "executing"
	statusCompleted      = "completed"
	statusConversational = "conversational"
)

// record is one NDJSON line from the oracle stream.
type record struct {
	Status           string          `json:"status"`
	Message          string          `json:"message"`
	Response         json.RawMessage `json:"response"`
	ConfirmationData json.RawMessage `json:"confirmationData"`
	RecoveryOptions  json.RawMessage `json:"recoveryOptions"`
}

// Relay forwards one utterance to the oracle and converts its streamed
// records into updates.
type Relay struct {
	oracle Oracle
	log    *slog.Logger
}

// NewRelay creates a relay backed by oracle.
func NewRelay(oracle Oracle, logger *slog.Logger) *Relay {
	return &Relay{oracle: oracle, log: logger}
}

// Run sends req to the oracle and yields progress updates followed by
// exactly one final update. Upstream failures are absorbed into an
// apology final; a canceled context ends the sequence without a final
// since the session is going away.
func (r *Relay) Run(ctx context.Context, req Request) iter.Seq[Update] {
	return func(yield func(Update) bool) {
		start := time.Now()

		stream, err := r.oracle.Converse(ctx, req)
		if err != nil {
			r.log.Warn("oracle request failed", "error", err)
			metrics.RecordRelay("error", time.Since(start).Seconds())
			yield(Update{Kind: UpdateFinal, Message: ApologyText, IsError: true})
			return
		}
		defer func() {
			if closeErr := stream.Close(); closeErr != nil {
				r.log.Debug("close oracle stream", "error", closeErr)
			}
		}()

		var terminal *record
		stopped := false

		handle := func(line string) bool {
			rec := r.parseLine(line)
			if rec == nil {
				return true
			}
			switch rec.Status {
			case statusCompleted, statusConversational:
				// Last terminal record wins; emitted after EOF.
				terminal = rec
			case statusThinking, statusProcessing, statusExecuting:
				return yield(progressUpdate(rec))
			default:
				r.log.Debug("ignoring unknown stream status", "status", rec.Status)
			}
			return true
		}

		var buf LineBuffer
		chunk := make([]byte, 4096)
		for {
			n, readErr := stream.Read(chunk)
			if n > 0 {
				for _, line := range buf.Feed(chunk[:n]) {
					if !handle(line) {
						stopped = true
						break
					}
				}
			}
			if stopped || readErr != nil {
				if readErr != nil && !errors.Is(readErr, io.EOF) && ctx.Err() == nil {
					// Treat a broken stream like EOF and answer with
					// whatever arrived.
					r.log.Warn("oracle stream read failed", "error", readErr)
				}
				break
			}
		}

		if ctx.Err() != nil {
			metrics.RecordRelay("canceled", time.Since(start).Seconds())
			return
		}
		if stopped {
			return
		}

		if line := buf.Flush(); line != "" {
			if !handle(line) {
				return
			}
		}

		metrics.RecordRelay("ok", time.Since(start).Seconds())

		if terminal == nil {
			yield(Update{Kind: UpdateFinal, Message: noAnswerText})
			return
		}
		yield(Update{
			Kind:             UpdateFinal,
			Status:           terminal.Status,
			Message:          finalText(terminal),
			ConfirmationData: terminal.ConfirmationData,
			RecoveryOptions:  terminal.RecoveryOptions,
		})
	}
}

// parseLine decodes one stream line, returning nil for blank or
// malformed input. Malformed lines never fail the relay.
func (r *Relay) parseLine(line string) *record {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	var rec record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		r.log.Warn("skipping malformed stream line", "error", err)
		return nil
	}
	return &rec
}

func progressUpdate(rec *record) Update {
	text := ""
	switch rec.Status {
	case statusThinking:
		text = thinkingText
	case statusProcessing:
		text = rec.Message
		if text == "" {
			text = processingText
		}
	case statusExecuting:
		text = executingText
	}
	return Update{Kind: UpdateProgress, Status: rec.Status, Message: text}
}

// finalText extracts the assistant's answer from a terminal record:
// message first, then the nested response (a bare string or an object
// with message/text), then a canned fallback.
func finalText(rec *record) string {
	if rec.Message != "" {
		return rec.Message
	}
	if len(rec.Response) > 0 {
		var s string
		if err := json.Unmarshal(rec.Response, &s); err == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
			Text    string `json:"text"`
		}
		if err := json.Unmarshal(rec.Response, &nested); err == nil {
			if nested.Message != "" {
				return nested.Message
			}
			if nested.Text != "" {
				return nested.Text
			}
		}
	}
	return completedText
}
