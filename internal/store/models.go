package store

import (
	"strconv"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const DefaultTextSize = "xxlarge"

// TextSizes are the accepted display preferences.
var TextSizes = []string{"medium", "large", "xlarge", "xxlarge"}

type Vehicle struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
}

// String renders the vehicle as "<year> <manufacturer> <model>".
func (v Vehicle) String() string {
	return strconv.Itoa(v.Year) + " " + v.Manufacturer + " " + v.Model
}

type ChatSession struct {
	ID        string    `json:"id"` // UUID
	UserID    string    `json:"user_id"`
	Vehicle   Vehicle   `json:"car_details"`
	CreatedAt time.Time `json:"created_at"`
	TextSize  string    `json:"text_size"`
}

type Message struct {
	ID        int64     `json:"-"`
	SessionID string    `json:"-"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Products  *string   `json:"-"` // serialized recommendation list
}

// SessionSummary is a session with its latest message and message count.
type SessionSummary struct {
	ChatSession
	LastMessage  string
	MessageCount int
}
