// Package stream carries job progress as newline-delimited JSON frames.
package stream

import (
	"time"

	"github.io/infrasutra/batchmail/internal/sender"
)

const (
	TypeStart = "start"
	TypeItem  = "item"
	TypeDone  = "done"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Frame is one progress event.
type Frame interface {
	Kind() string
}

type Start struct {
	Type  string `json:"type"`
	Total int    `json:"total"`
}

func (Start) Kind() string { return TypeStart }

type Item struct {
	Type        string `json:"type"`
	Index       int    `json:"index"`
	To          string `json:"to"`
	Status      string `json:"status"`
	MessageID   string `json:"messageId,omitempty"`
	Error       string `json:"error,omitempty"`
	Subject     string `json:"subject"`
	Attachments int    `json:"attachments"`
	Timestamp   string `json:"timestamp"`
}

func (Item) Kind() string { return TypeItem }

type Done struct {
	Type   string `json:"type"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

func (Done) Kind() string { return TypeDone }

func NewStart(total int) Start {
	return Start{Type: TypeStart, Total: total}
}

func NewItem(o sender.Outcome) Item {
	return Item{
		Type:        TypeItem,
		Index:       o.Index,
		To:          o.Recipient,
		Status:      string(o.Status),
		MessageID:   o.MessageID,
		Error:       o.Error,
		Subject:     o.Subject,
		Attachments: o.Attachments,
		Timestamp:   o.Timestamp.UTC().Format(TimestampLayout),
	}
}

func NewDone(sent, failed int) Done {
	return Done{Type: TypeDone, Sent: sent, Failed: failed}
}

// Record is a decoded frame of any type.
type Record struct {
	Type        string `json:"type"`
	Total       int    `json:"total,omitempty"`
	Index       int    `json:"index"`
	To          string `json:"to,omitempty"`
	Status      string `json:"status,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	Error       string `json:"error,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Attachments int    `json:"attachments,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Sent        int    `json:"sent,omitempty"`
	Failed      int    `json:"failed,omitempty"`
}

// Time parses the item timestamp.
func (r Record) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, r.Timestamp)
}
