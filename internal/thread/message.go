package thread

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyMessage is returned for a message with neither text nor attachment.
	ErrEmptyMessage = errors.New("message needs text or an attachment")
	// ErrInvalidParticipant is returned when a sender or recipient is blank
	// or both are the same person.
	ErrInvalidParticipant = errors.New("message needs two distinct participants")
)

// Message is one entry of a thread. Field names match the JSON the portal
// kept in browser storage.
type Message struct {
	ID             string     `json:"id"`
	At             time.Time  `json:"at"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	Text           string     `json:"text"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	AttachmentID   string     `json:"attachmentId,omitempty"`
	AttachmentName string     `json:"attachmentName,omitempty"`
}

// Attachment references a file in the external files registry.
type Attachment struct {
	ID   string
	Name string
}

// New builds a message with a fresh id. Text is kept verbatim.
func New(from, to, text string, att *Attachment, at time.Time) (Message, error) {
	m := Message{
		ID:   uuid.NewString(),
		At:   at.UTC(),
		From: strings.TrimSpace(from),
		To:   strings.TrimSpace(to),
		Text: text,
	}
	if att != nil {
		m.AttachmentID = att.ID
		m.AttachmentName = att.Name
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks the send-time invariants.
func (m Message) Validate() error {
	if !ValidID(m.From) || !ValidID(m.To) || Same(m.From, m.To) {
		return ErrInvalidParticipant
	}
	if strings.TrimSpace(m.Text) == "" && m.AttachmentID == "" {
		return ErrEmptyMessage
	}
	return nil
}

// IsFrom reports whether the message was authored by id.
func (m Message) IsFrom(id string) bool { return Same(m.From, id) }

// IsFor reports whether the message is addressed to id.
func (m Message) IsFor(id string) bool { return Same(m.To, id) }

// Normalize canonicalizes a participant identifier.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ValidID reports whether id can name a thread participant.
func ValidID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && !strings.ContainsAny(id, "|\n")
}

// Same compares identifiers case-insensitively.
func Same(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
