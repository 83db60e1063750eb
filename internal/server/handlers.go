// Package server provides the HTTP surface of the curator service: the
// survey flow endpoints, the admin gate, and health checking.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leisuredna/curator/internal/admin"
	"github.com/leisuredna/curator/internal/curator"
	"github.com/leisuredna/curator/internal/database"
	"github.com/leisuredna/curator/internal/session"
	"github.com/leisuredna/curator/internal/transcript"
)

const maxUploadBytes = 10 << 20 // multipart turn with image attachment

// Handler carries the handler dependencies.
type Handler struct {
	driver      *curator.Driver
	sessions    *session.Manager
	gate        *admin.Gate
	transcripts *transcript.Store
	db          database.Store
	logger      *slog.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(
	driver *curator.Driver,
	sessions *session.Manager,
	gate *admin.Gate,
	transcripts *transcript.Store,
	db database.Store,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		driver:      driver,
		sessions:    sessions,
		gate:        gate,
		transcripts: transcripts,
		db:          db,
		logger:      logger.With("component", "http"),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeErr maps driver and gate errors onto HTTP status codes.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var vErr *curator.ValidationError
	switch {
	case errors.As(err, &vErr),
		errors.Is(err, curator.ErrEmptyMessage),
		errors.Is(err, curator.ErrInvalidScore):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrWrongStep),
		errors.Is(err, curator.ErrChatAlreadyOpen),
		errors.Is(err, curator.ErrChatNotOpen):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, admin.ErrBadCredentials),
		errors.Is(err, admin.ErrGateDisabled):
		Error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, curator.ErrModelExhausted):
		Error(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("Internal error", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

type stateResponse struct {
	Step     session.Step      `json:"step"`
	Profile  *session.Profile  `json:"profile,omitempty"`
	Messages []session.Message `json:"messages"`
	Admin    bool              `json:"admin"`
}

// State returns the session's step, profile, and message history so the
// page can re-render after a reload.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	resp := stateResponse{
		Step:     sess.Step(),
		Messages: sess.Messages(),
		Admin:    sess.Admin(),
	}
	if p := sess.Profile(); !p.Empty() {
		resp.Profile = &p
	}
	if resp.Messages == nil {
		resp.Messages = []session.Message{}
	}
	JSON(w, http.StatusOK, resp)
}

// SubmitProfile validates the profile, advances to the chat step, and
// immediately opens the remote chat, returning the opening message.
func (h *Handler) SubmitProfile(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var p session.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.driver.SubmitProfile(r.Context(), sess, p); err != nil {
		h.writeErr(w, err)
		return
	}

	opening, err := h.driver.OpenChat(r.Context(), sess)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"step":    sess.Step(),
		"opening": opening,
	})
}

// OpenChat retries opening the remote chat for a session that reached the
// chat step but has no live chat yet (e.g. after a failed first attempt).
func (h *Handler) OpenChat(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	opening, err := h.driver.OpenChat(r.Context(), sess)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"opening": opening})
}

type chatRequest struct {
	Message string `json:"message"`
}

// Chat forwards one user turn. Accepts either a JSON body with a message
// field, or multipart form data with a message field and an optional image
// file treated as an opaque attachment.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	text, att, err := parseChatRequest(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := h.driver.SendTurn(r.Context(), sess, text, att)
	if err != nil {
		// A failed forward is recoverable: the conversation stays
		// resumable and the client may retry with a new message.
		if errors.Is(err, curator.ErrEmptyMessage) ||
			errors.Is(err, session.ErrWrongStep) ||
			errors.Is(err, curator.ErrChatNotOpen) {
			h.writeErr(w, err)
			return
		}
		Error(w, http.StatusBadGateway, err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func parseChatRequest(r *http.Request) (string, *curator.Attachment, error) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", nil, fmt.Errorf("invalid request body")
		}
		return req.Message, nil, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, fmt.Errorf("invalid multipart body")
	}
	text := r.FormValue("message")

	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return text, nil, nil
		}
		return "", nil, fmt.Errorf("invalid image upload")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read image upload")
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return text, &curator.Attachment{MIMEType: mimeType, Data: data}, nil
}

// EndChat moves the session to the rating step.
func (h *Handler) EndChat(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	if err := h.driver.EndChat(r.Context(), sess); err != nil {
		h.writeErr(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"step": sess.Step()})
}

type feedbackRequest struct {
	Score int `json:"score"`
}

// Feedback records the satisfaction score and resets the session.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.driver.SubmitFeedback(r.Context(), sess, req.Score); err != nil {
		h.writeErr(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"step": sess.Step()})
}

type adminLoginRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

// AdminLogin checks the submitted credentials and sets the session's
// admin-view flag on success.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.gate.Authenticate(req.ID, req.Password); err != nil {
		h.writeErr(w, err)
		return
	}

	sess.SetAdmin(true)
	JSON(w, http.StatusOK, map[string]bool{"admin": true})
}

// AdminLogout clears the session's admin-view flag.
func (h *Handler) AdminLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	sess.SetAdmin(false)
	JSON(w, http.StatusOK, map[string]bool{"admin": false})
}

// requireAdmin guards the record views behind the admin flag.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	sess := sessionFrom(r.Context())
	if sess == nil || !sess.Admin() {
		Error(w, http.StatusUnauthorized, "admin login required")
		return false
	}
	return true
}

type recordResponse struct {
	Timestamp    string `json:"timestamp"`
	AgeGender    string `json:"age_gender"`
	Location     string `json:"location"`
	Budget       string `json:"budget"`
	Companion    string `json:"companion"`
	Conversation string `json:"full_conversation"`
	Score        string `json:"satisfaction_score"`
}

// AdminRecords returns every persisted transcript row, unfiltered, in
// append order.
func (h *Handler) AdminRecords(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	rows, err := h.transcripts.ReadAll()
	if err != nil {
		h.logger.Error("Failed to read transcript store", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read records")
		return
	}

	out := make([]recordResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, recordResponse{
			Timestamp:    row.Timestamp.Format("2006-01-02 15:04:05"),
			AgeGender:    row.AgeGender,
			Location:     row.Location,
			Budget:       row.Budget,
			Companion:    row.Companion,
			Conversation: row.Conversation,
			Score:        row.Score,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"records": out, "count": len(out)})
}

// AdminRecordsCSV serves the transcript log as a CSV download.
func (h *Handler) AdminRecordsCSV(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	f, err := h.transcripts.Open()
	if err != nil {
		h.logger.Error("Failed to open transcript store", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read records")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="leisure_data.csv"`)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Error("Failed to stream transcript download", "error", err)
	}
}

// Health reports liveness and database connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
