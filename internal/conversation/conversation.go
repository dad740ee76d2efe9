// Package conversation holds the domain types shared by the coach service,
// its storage and its clients.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

const (
	// DefaultID is the versioned key of the single conversation a client
	// works with when it does not name one.
	DefaultID = "coach_single_conv_v1"
	// DefaultTitle is the title given to new and reset conversations.
	DefaultTitle = "対話"
	// HistoryWindow is how many prior turns accompany each new message.
	HistoryWindow = 20

	// EmptyReply replaces a blank provider reply.
	EmptyReply = "（返答が空でした）"
	// TransportFailureReply is the local bubble a client appends when a send fails.
	TransportFailureReply = "（エラー）通信に失敗しました。"
)

// Message is one persisted chat turn.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"ts"`
}

// NewMessage builds a message with a fresh identifier.
func NewMessage(role Role, content string, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
}

// Turn returns the wire form of the message used as provider history.
func (m Message) Turn() Turn {
	return Turn{Role: m.Role, Content: m.Content}
}

// Turn is a role/content pair as sent in a history array.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Insights is the summary panel derived from a conversation.
type Insights struct {
	Summary    string    `json:"summary"`
	Direction  string    `json:"direction"`
	NextSteps  []string  `json:"nextSteps"`
	Questions  []string  `json:"questions"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Conversation is a titled sequence of messages with optional insights.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Insights  *Insights `json:"insights,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Tail returns the last n messages as history turns, oldest first.
func (c *Conversation) Tail(n int) []Turn {
	if c == nil || n <= 0 {
		return nil
	}
	msgs := c.Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	turns := make([]Turn, len(msgs))
	for i, m := range msgs {
		turns[i] = m.Turn()
	}
	return turns
}

// UserTexts returns the content of every user message in order.
func (c *Conversation) UserTexts() []string {
	if c == nil {
		return nil
	}
	texts := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			texts = append(texts, m.Content)
		}
	}
	return texts
}

// Summary describes a stored conversation without its messages.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// Exchange is the outcome of one successful send.
type Exchange struct {
	ConversationID string    `json:"conversationId"`
	User           Message   `json:"user"`
	Assistant      Message   `json:"assistant"`
	Insights       *Insights `json:"insights,omitempty"`
}

// TrimTurns keeps the last n turns.
func TrimTurns(turns []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}

// Clone returns a deep copy of c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	if c.Insights != nil {
		ins := c.Insights.Clone()
		out.Insights = &ins
	}
	return &out
}

// Clone returns a copy of i that shares no slices with it.
func (i Insights) Clone() Insights {
	i.NextSteps = append([]string(nil), i.NextSteps...)
	i.Questions = append([]string(nil), i.Questions...)
	return i
}
