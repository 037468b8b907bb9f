package chat

import "time"

// Session captures one conversation and the store key its log lives under.
type Session struct {
	ID        string    `json:"id"`
	Key       string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}
