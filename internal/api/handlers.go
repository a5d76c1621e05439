package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"autogenius.dev/car-diagnostics/internal/apierr"
	"autogenius.dev/car-diagnostics/internal/auth"
	"autogenius.dev/car-diagnostics/internal/core"
	"autogenius.dev/car-diagnostics/internal/store"
)

const uploadURLPrefix = "/static/uploads/"

type APIHandler struct {
	chatService    *core.ChatService
	sessions       *auth.SessionManager
	provider       auth.Provider
	uploadDir      string
	maxUploadBytes int64
	secureCookies  bool
}

type Options struct {
	UploadDir      string
	MaxUploadBytes int64
	SecureCookies  bool
}

func NewAPIHandler(cs *core.ChatService, sessions *auth.SessionManager, provider auth.Provider, opts Options) *APIHandler {
	return &APIHandler{
		chatService:    cs,
		sessions:       sessions,
		provider:       provider,
		uploadDir:      opts.UploadDir,
		maxUploadBytes: opts.MaxUploadBytes,
		secureCookies:  opts.SecureCookies,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("Failed to write response: %v", err)
	}
}

// writeError maps err to its HTTP status. Unknown errors are 500 with the error text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierr.StatusOf(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	if status >= http.StatusInternalServerError {
		log.WithField("path", r.URL.Path).Errorf("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.BadRequest(fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

// AuthMiddleware rejects requests without a valid session before any handler work.
func (h *APIHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.sessions.FromRequest(r)
		if err != nil {
			writeError(w, r, apierr.Unauthenticated("Not authenticated"))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

func currentUser(r *http.Request) *auth.User {
	return auth.UserFromContext(r.Context())
}

func (h *APIHandler) RootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"name": "Car Diagnostics API", "status": "ok"})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type CarDetails struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
}

func (c CarDetails) vehicle() store.Vehicle {
	return store.Vehicle{Manufacturer: c.Manufacturer, Model: c.Model, Year: c.Year}
}

func carDetailsOf(v store.Vehicle) CarDetails {
	return CarDetails{Manufacturer: v.Manufacturer, Model: v.Model, Year: v.Year}
}

type CreateSessionResponse struct {
	SessionID  string     `json:"session_id"`
	CarDetails CarDetails `json:"car_details"`
}

func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CarDetails
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Manufacturer = strings.TrimSpace(req.Manufacturer)
	req.Model = strings.TrimSpace(req.Model)
	if req.Manufacturer == "" || req.Model == "" || req.Year <= 0 {
		writeError(w, r, apierr.BadRequest(errors.New("manufacturer, model and year are required")))
		return
	}

	sess, err := h.chatService.StartSession(r.Context(), currentUser(r).ID, req.vehicle())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CreateSessionResponse{SessionID: sess.ID, CarDetails: req})
}

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, r, apierr.BadRequest(errors.New("session_id and message are required")))
		return
	}

	reply, err := h.chatService.Chat(r.Context(), currentUser(r).ID, req.SessionID, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type TextSizeRequest struct {
	SessionID string `json:"session_id"`
	Size      string `json:"size"`
}

func (h *APIHandler) SetTextSizeHandler(w http.ResponseWriter, r *http.Request) {
	var req TextSizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.chatService.SetTextSize(r.Context(), currentUser(r).ID, req.SessionID, req.Size); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type SessionListItem struct {
	ID           string     `json:"id"`
	CarDetails   CarDetails `json:"car_details"`
	CreatedAt    string     `json:"created_at"`
	LastMessage  string     `json:"last_message"`
	MessageCount int        `json:"message_count"`
}

func (h *APIHandler) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatService.ListSessions(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]SessionListItem, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionListItem{
			ID:           s.ID,
			CarDetails:   carDetailsOf(s.Vehicle),
			CreatedAt:    s.CreatedAt.Format(time.RFC3339Nano),
			LastMessage:  s.LastMessage,
			MessageCount: s.MessageCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]SessionListItem{"sessions": out})
}

type TranscriptMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Timestamp string          `json:"timestamp"`
	Products  json.RawMessage `json:"products"`
}

type TranscriptResponse struct {
	ID         string              `json:"id"`
	CarDetails CarDetails          `json:"car_details"`
	CreatedAt  string              `json:"created_at"`
	TextSize   string              `json:"text_size"`
	Messages   []TranscriptMessage `json:"messages"`
}

var jsonNull = json.RawMessage("null")

func (h *APIHandler) GetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, messages, err := h.chatService.Transcript(r.Context(), currentUser(r).ID, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := TranscriptResponse{
		ID:         sess.ID,
		CarDetails: carDetailsOf(sess.Vehicle),
		CreatedAt:  sess.CreatedAt.Format(time.RFC3339Nano),
		TextSize:   sess.TextSize,
		Messages:   make([]TranscriptMessage, 0, len(messages)),
	}
	for _, m := range messages {
		products := jsonNull
		if m.Products != nil && json.Valid([]byte(*m.Products)) {
			products = json.RawMessage(*m.Products)
		}
		resp.Messages = append(resp.Messages, TranscriptMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp.Format(time.RFC3339Nano),
			Products:  products,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) DeleteHistoryHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.chatService.DeleteSession(r.Context(), currentUser(r).ID, sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *APIHandler) ClearHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := h.chatService.ClearHistory(r.Context(), currentUser(r).ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type UploadResponse struct {
	Success bool   `json:"success"`
	FileURL string `json:"file_url"`
}

// UploadImageHandler stores a multipart file as <upload dir>/<session id>_<file name>.
func (h *APIHandler) UploadImageHandler(w http.ResponseWriter, r *http.Request) {
	errTooLarge := apierr.New(http.StatusRequestEntityTooLarge, "too_large", errors.New("file too large"))
	if r.ContentLength > h.maxUploadBytes {
		writeError(w, r, errTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, errTooLarge)
			return
		}
		writeError(w, r, apierr.BadRequest(fmt.Errorf("invalid multipart form: %w", err)))
		return
	}

	sessionID := r.FormValue("session_id")
	file, header, err := r.FormFile("file")
	if sessionID == "" || err != nil {
		writeError(w, r, apierr.BadRequest(errors.New("session_id and file are required")))
		return
	}
	defer file.Close()

	if _, err := h.chatService.AuthorizeSession(r.Context(), currentUser(r).ID, sessionID); err != nil {
		writeError(w, r, err)
		return
	}

	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(header.Filename, "\\", "/")))
	if name == "/" || name == "." {
		writeError(w, r, apierr.BadRequest(errors.New("invalid file name")))
		return
	}
	stored := filepath.Base(sessionID) + "_" + name

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		writeError(w, r, err)
		return
	}
	dst, err := os.Create(filepath.Join(h.uploadDir, stored))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{Success: true, FileURL: uploadURLPrefix + url.PathEscape(stored)})
}
