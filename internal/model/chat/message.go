package chat

import "strings"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// Message is one immutable entry of a conversation log.
type Message struct {
	Text   string `json:"text"`
	Sender Sender `json:"sender"`
}

// UserMessage builds a user-authored message.
func UserMessage(text string) Message {
	return Message{Text: text, Sender: SenderUser}
}

// BotMessage builds a bot-authored message.
func BotMessage(text string) Message {
	return Message{Text: text, Sender: SenderBot}
}

// IsBlank reports whether text has nothing but whitespace.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// Reversed returns a most-recent-first copy of the log for rendering.
func Reversed(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[len(messages)-1-i] = msg
	}
	return out
}
