package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"autogenius.dev/car-diagnostics/internal/apierr"
	"autogenius.dev/car-diagnostics/internal/catalog"
	"autogenius.dev/car-diagnostics/internal/store"
)

const chatRecommendations = 3

var (
	ErrSessionNotFound = apierr.NotFound("Session not found")
	ErrNotAuthorized   = apierr.Forbidden("Not authorized")
	ErrInvalidTextSize = apierr.BadRequest(errors.New("text size must be one of " + strings.Join(store.TextSizes, ", ")))
)

// Recommender ranks catalog products against free text.
type Recommender interface {
	Recommend(query string, topK int) []catalog.Product
}

type ChatService struct {
	store       *store.Store
	responder   *Responder
	recommender Recommender
}

func NewChatService(db *store.Store, responder *Responder, recommender Recommender) *ChatService {
	return &ChatService{
		store:       db,
		responder:   responder,
		recommender: recommender,
	}
}

// ChatReply is the assistant's answer to one chat turn.
type ChatReply struct {
	Message  string            `json:"message"`
	Products []catalog.Product `json:"products"`
}

// ownedSession loads a session and checks that userID owns it.
func ownedSession(ctx context.Context, tx *store.Tx, userID, sessionID string) (*store.ChatSession, error) {
	sess, err := tx.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrNotAuthorized
	}
	return sess, nil
}

// StartSession creates a session for the vehicle with its vehicle-context and welcome messages.
func (s *ChatService) StartSession(ctx context.Context, userID string, vehicle store.Vehicle) (*store.ChatSession, error) {
	sess := &store.ChatSession{UserID: userID, Vehicle: vehicle}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateSession(ctx, sess); err != nil {
			return err
		}
		if err := tx.AppendMessage(ctx, &store.Message{
			SessionID: sess.ID,
			Role:      store.RoleSystem,
			Content:   "Vehicle: " + vehicle.String(),
		}); err != nil {
			return err
		}
		return tx.AppendMessage(ctx, &store.Message{
			SessionID: sess.ID,
			Role:      store.RoleAssistant,
			Content:   "Hello! I'm ready to help with your " + vehicle.String() + ". What issues are you experiencing?",
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	log.WithField("session_id", sess.ID).Info("Created session")
	return sess, nil
}

// Chat records the user's message, asks the responder for a diagnosis and attaches recommendations.
// The user message is committed before the completion call; if storing the reply fails
// the user message stays in history without an answer.
func (s *ChatService) Chat(ctx context.Context, userID, sessionID, text string) (*ChatReply, error) {
	var sess *store.ChatSession
	var history []ChatMessage

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		if sess, err = ownedSession(ctx, tx, userID, sessionID); err != nil {
			return err
		}
		messages, err := tx.ListMessages(ctx, sess.ID)
		if err != nil {
			return err
		}
		history = make([]ChatMessage, 0, len(messages)+1)
		for _, m := range messages {
			history = append(history, ChatMessage{Role: m.Role, Content: m.Content})
		}
		history = append(history, ChatMessage{Role: store.RoleUser, Content: text})

		return tx.AppendMessage(ctx, &store.Message{SessionID: sess.ID, Role: store.RoleUser, Content: text})
	})
	if err != nil {
		return nil, err
	}

	diagnosis := s.responder.Respond(ctx, history, sess.Vehicle)
	products := s.recommender.Recommend(diagnosis, chatRecommendations)
	if products == nil {
		products = []catalog.Product{}
	}

	reply := &ChatReply{Message: diagnosis + formatRecommendations(products), Products: products}
	assistant := &store.Message{SessionID: sess.ID, Role: store.RoleAssistant, Content: reply.Message}
	if len(products) > 0 {
		encoded, err := json.Marshal(products)
		if err != nil {
			return nil, fmt.Errorf("failed to encode recommendations: %w", err)
		}
		serialized := string(encoded)
		assistant.Products = &serialized
	}

	if err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.AppendMessage(ctx, assistant)
	}); err != nil {
		log.WithField("session_id", sess.ID).Errorf("Assistant reply not stored: %v", err)
		return nil, err
	}
	return reply, nil
}

func formatRecommendations(products []catalog.Product) string {
	if len(products) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n**Recommended Products:**\n")
	for i, p := range products {
		fmt.Fprintf(&b, "%d. %s by %s ($%s)\n   URL: %s\n",
			i+1, p.Title, p.Manufacturer, formatPrice(p.Price), p.URL)
	}
	return b.String()
}

// formatPrice keeps at least one decimal place: 4500 -> "4500.0", 12.25 -> "12.25".
func formatPrice(price float64) string {
	s := strconv.FormatFloat(price, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func (s *ChatService) SetTextSize(ctx context.Context, userID, sessionID, size string) error {
	if !slices.Contains(store.TextSizes, size) {
		return ErrInvalidTextSize
	}
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := ownedSession(ctx, tx, userID, sessionID); err != nil {
			return err
		}
		return tx.UpdateTextSize(ctx, sessionID, size)
	})
}

func (s *ChatService) ListSessions(ctx context.Context, userID string) ([]store.SessionSummary, error) {
	var sessions []store.SessionSummary
	err := s.store.WithTx(ctx, func(tx *store.Tx) (err error) {
		sessions, err = tx.ListSessionsByUser(ctx, userID)
		return err
	})
	return sessions, err
}

// Transcript returns the session and its messages in conversation order.
func (s *ChatService) Transcript(ctx context.Context, userID, sessionID string) (*store.ChatSession, []store.Message, error) {
	var sess *store.ChatSession
	var messages []store.Message
	err := s.store.WithTx(ctx, func(tx *store.Tx) (err error) {
		if sess, err = ownedSession(ctx, tx, userID, sessionID); err != nil {
			return err
		}
		messages, err = tx.ListMessages(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, messages, nil
}

// AuthorizeSession checks that the session exists and belongs to userID.
func (s *ChatService) AuthorizeSession(ctx context.Context, userID, sessionID string) (*store.ChatSession, error) {
	var sess *store.ChatSession
	err := s.store.WithTx(ctx, func(tx *store.Tx) (err error) {
		sess, err = ownedSession(ctx, tx, userID, sessionID)
		return err
	})
	return sess, err
}

func (s *ChatService) DeleteSession(ctx context.Context, userID, sessionID string) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := ownedSession(ctx, tx, userID, sessionID); err != nil {
			return err
		}
		return tx.DeleteSession(ctx, sessionID)
	})
}

// ClearHistory deletes every session of userID.
func (s *ChatService) ClearHistory(ctx context.Context, userID string) (int64, error) {
	var deleted int64
	err := s.store.WithTx(ctx, func(tx *store.Tx) (err error) {
		deleted, err = tx.DeleteSessionsByUser(ctx, userID)
		return err
	})
	if err == nil {
		log.WithField("user_id", userID).Infof("Cleared %d sessions", deleted)
	}
	return deleted, err
}
