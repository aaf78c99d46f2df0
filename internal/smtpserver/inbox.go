package smtpserver

import (
	"sync"
	"time"
)

type Message struct {
	ID          string       `json:"id"`
	MessageID   string       `json:"messageId"`
	From        string       `json:"from"`
	FromName    string       `json:"fromName,omitempty"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	HTMLBody    string       `json:"html"`
	TextBody    string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments"`
	Size        int64        `json:"size"`
	ReceivedAt  time.Time    `json:"receivedAt"`
	Raw         []byte       `json:"-"`
}

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
}

// Inbox holds the most recent captured messages, oldest first.
type Inbox struct {
	mu       sync.RWMutex
	limit    int
	messages []Message
}

// NewInbox keeps at most limit messages. A limit of zero or less keeps all.
func NewInbox(limit int) *Inbox {
	return &Inbox{limit: limit}
}

func (i *Inbox) add(msg Message) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.messages = append(i.messages, msg)
	if i.limit > 0 && len(i.messages) > i.limit {
		i.messages = append([]Message(nil), i.messages[len(i.messages)-i.limit:]...)
	}
}

func (i *Inbox) Messages() []Message {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]Message(nil), i.messages...)
}

func (i *Inbox) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.messages)
}

func (i *Inbox) Clear() {
	i.mu.Lock()
	i.messages = nil
	i.mu.Unlock()
}
