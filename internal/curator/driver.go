// Package curator drives the three-step survey flow: collect a profile,
// run the curated chat against the hosted model, then take a satisfaction
// rating. It owns the persona prompt, the model fallback probe, and all
// persistence triggered by the conversation.
package curator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/leisuredna/curator/internal/config"
	"github.com/leisuredna/curator/internal/database"
	"github.com/leisuredna/curator/internal/gemini"
	"github.com/leisuredna/curator/internal/session"
	"github.com/leisuredna/curator/internal/transcript"
)

var (
	// ErrEmptyMessage is returned for a blank chat input. The turn is a
	// no-op; nothing is appended or forwarded.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrInvalidScore is returned for a satisfaction score outside 1..5.
	ErrInvalidScore = errors.New("satisfaction score must be between 1 and 5")

	// ErrChatNotOpen is returned when a turn arrives before OpenChat
	// succeeded for the session.
	ErrChatNotOpen = errors.New("chat session is not open")

	// ErrChatAlreadyOpen is returned when OpenChat is called twice.
	ErrChatAlreadyOpen = errors.New("chat session is already open")

	// ErrModelExhausted is returned when every candidate model in the
	// fallback list failed to open a session.
	ErrModelExhausted = errors.New("all candidate models failed")
)

// ValidationError wraps a profile field validation failure so callers can
// distinguish it from infrastructure errors.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Attachment is an opaque image artifact bundled with a turn. The driver
// never interprets it; it is forwarded to the model as-is.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Driver orchestrates the survey state machine and mediates all traffic
// with the hosted model.
type Driver struct {
	client      gemini.Client
	models      []string
	persona     string
	transcripts *transcript.Store
	archive     database.Store
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewDriver wires the driver. archive may be nil when the message archive
// is disabled; archival is best-effort either way.
func NewDriver(
	client gemini.Client,
	transcripts *transcript.Store,
	archive database.Store,
	cfg config.GeminiConfig,
	logger *slog.Logger,
) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		client:      client,
		models:      cfg.Models,
		persona:     cfg.Persona,
		transcripts: transcripts,
		archive:     archive,
		validate:    validator.New(),
		logger:      logger.With("component", "driver"),
	}
}

// SubmitProfile validates the required fields and advances the session
// from collecting_profile to chatting. On validation failure the session
// stays on the profile step.
func (d *Driver) SubmitProfile(ctx context.Context, sess *session.Session, p session.Profile) error {
	if err := d.validate.StructCtx(ctx, p); err != nil {
		d.logger.DebugContext(ctx, "Profile validation failed", "session_id", sess.ID, "error", err)
		return &ValidationError{Err: err}
	}
	if err := sess.StartChatting(p); err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "Profile collected", "session_id", sess.ID, "location", p.Location)
	return nil
}

// OpenChat opens the remote chat session and returns the assistant's
// opening message. Candidate models from the configured list are tried in
// fixed priority order, stopping at the first success; there is no backoff
// and no retry, only a next-candidate index. Exhausting the list is
// terminal for this session.
func (d *Driver) OpenChat(ctx context.Context, sess *session.Session) (string, error) {
	if err := sess.RequireStep(session.StepChatting); err != nil {
		return "", err
	}
	if sess.Chat() != nil {
		return "", ErrChatAlreadyOpen
	}

	prompt := openingPrompt(d.persona, sess.Profile())

	var lastErr error
	for i, model := range d.models {
		handle, opening, err := d.client.StartChat(ctx, model, prompt)
		if err != nil {
			d.logger.WarnContext(ctx, "Model candidate failed",
				"session_id", sess.ID, "model", model, "candidate", i+1, "error", err)
			lastErr = err
			continue
		}

		if err := sess.AttachChat(handle, opening); err != nil {
			return "", err
		}
		d.archiveMessage(ctx, sess.ID, session.RoleAssistant, opening)
		d.logger.InfoContext(ctx, "Chat opened", "session_id", sess.ID, "model", model)
		return opening, nil
	}

	d.logger.ErrorContext(ctx, "All candidate models failed", "session_id", sess.ID, "candidates", len(d.models), "error", lastErr)
	return "", fmt.Errorf("%w: %w", ErrModelExhausted, lastErr)
}

// SendTurn forwards one user message (optionally with an opaque image
// attachment) and returns the assistant reply. The user message is
// appended before the remote call; on a failed call it stays in place and
// no assistant message is appended for that turn. Each successful turn
// appends a cumulative transcript row with the score still unset.
func (d *Driver) SendTurn(ctx context.Context, sess *session.Session, text string, att *Attachment) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}

	handle, ok := sess.Chat().(gemini.Session)
	if !ok || handle == nil {
		if err := sess.RequireStep(session.StepChatting); err != nil {
			return "", err
		}
		return "", ErrChatNotOpen
	}

	if err := sess.AppendUser(text); err != nil {
		return "", err
	}
	d.archiveMessage(ctx, sess.ID, session.RoleUser, text)

	var reply string
	var err error
	if att != nil {
		reply, err = handle.SendImage(ctx, text, att.MIMEType, att.Data)
	} else {
		reply, err = handle.Send(ctx, text)
	}
	if err != nil {
		d.logger.ErrorContext(ctx, "Chat turn failed", "session_id", sess.ID, "error", err)
		return "", fmt.Errorf("chat turn failed: %w", err)
	}

	if err := sess.AppendAssistant(reply); err != nil {
		return "", err
	}
	d.archiveMessage(ctx, sess.ID, session.RoleAssistant, reply)

	// Logging is best-effort: a failed append must never block the
	// conversation, but it has to reach the operator.
	row := d.buildRow(sess, transcript.ScoreUnrated)
	if err := d.transcripts.Append(row); err != nil {
		d.logger.ErrorContext(ctx, "Transcript append failed, conversation continues",
			"session_id", sess.ID, "error", err)
	}

	return reply, nil
}

// EndChat moves the session from chatting to rating. No side effects
// beyond the step change.
func (d *Driver) EndChat(ctx context.Context, sess *session.Session) error {
	if err := sess.EndChat(); err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "Chat ended", "session_id", sess.ID, "turns", len(sess.Messages()))
	return nil
}

// SubmitFeedback records the satisfaction score, appends the final
// transcript row, and clears the session back to the profile step. An
// out-of-range score is rejected without a row and without clearing.
// Unlike per-turn logging, a failed final append keeps the session alive
// so the visitor can retry instead of silently losing the survey.
func (d *Driver) SubmitFeedback(ctx context.Context, sess *session.Session, score int) error {
	if score < 1 || score > 5 {
		return ErrInvalidScore
	}
	if err := sess.RequireStep(session.StepRating); err != nil {
		return err
	}

	row := d.buildRow(sess, strconv.Itoa(score))
	if err := d.transcripts.Append(row); err != nil {
		d.logger.ErrorContext(ctx, "Final transcript append failed", "session_id", sess.ID, "error", err)
		return fmt.Errorf("failed to persist feedback: %w", err)
	}

	d.logger.InfoContext(ctx, "Survey completed", "session_id", sess.ID, "score", score)
	sess.Clear()
	return nil
}

func (d *Driver) buildRow(sess *session.Session, score string) transcript.Row {
	p := sess.Profile()
	return transcript.Row{
		Timestamp:    time.Now(),
		AgeGender:    p.AgeGender,
		Location:     p.Location,
		Budget:       p.Budget,
		Companion:    p.Companion,
		Conversation: RenderTranscript(sess.Messages()),
		Score:        score,
	}
}

func (d *Driver) archiveMessage(ctx context.Context, sessionID string, role session.Role, content string) {
	if d.archive == nil {
		return
	}
	msg := &database.Message{
		SessionID: sessionID,
		Role:      string(role),
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.archive.SaveMessage(ctx, msg); err != nil {
		d.logger.WarnContext(ctx, "Message archive failed", "session_id", sessionID, "error", err)
	}
}

// RenderTranscript renders the message sequence as the newline-joined
// text block stored in the full_conversation column.
func RenderTranscript(msgs []session.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		role := "User"
		if m.Role == session.RoleAssistant {
			role = "AI"
		}
		sb.WriteString(fmt.Sprintf("[%s] %s\n", role, m.Content))
	}
	return sb.String()
}

// openingPrompt combines the persona instruction with the profile context
// line injected as the first turn of every chat session.
func openingPrompt(persona string, p session.Profile) string {
	return fmt.Sprintf("%s\n[사용자 정보] %s, %s, %s 예산, %s 동반.",
		persona, p.AgeGender, p.Location, p.Budget, p.Companion)
}
