package api

import (
	"time"

	"github.com/matheus3301/portalchat/internal/receipt"
	"github.com/matheus3301/portalchat/internal/roster"
	"github.com/matheus3301/portalchat/internal/thread"
)

// Message is a thread entry as returned to clients.
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
	State          string     `json:"state"`
}

func messageFromThread(m thread.Message) Message {
	return Message{
		ID:             m.ID,
		At:             m.At,
		From:           m.From,
		To:             m.To,
		Text:           m.Text,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
		AttachmentID:   m.AttachmentID,
		AttachmentName: m.AttachmentName,
		State:          string(receipt.Of(m)),
	}
}

// Person is a roster entry with the caller's unread count.
type Person struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Company  string `json:"company,omitempty"`
	Username string `json:"username"`
	Unread   int    `json:"unread"`
}

func personFromRoster(p roster.Person, unread int) Person {
	return Person{Name: p.Name, Email: p.Email, Company: p.Company, Username: p.Username, Unread: unread}
}

type SendRequest struct {
	User           string `json:"user"`
	To             string `json:"to"`
	Text           string `json:"text"`
	AttachmentID   string `json:"attachmentId,omitempty"`
	AttachmentName string `json:"attachmentName,omitempty"`
}

type SendResponse struct {
	Message Message `json:"message"`
}

type ListThreadRequest struct {
	User    string `json:"user"`
	Partner string `json:"partner"`
}

type ListThreadResponse struct {
	Messages []Message `json:"messages"`
	Unread   int       `json:"unread"`
}

type OpenThreadRequest struct {
	User    string `json:"user"`
	Partner string `json:"partner"`
}

type OpenThreadResponse struct {
	MarkedRead []string `json:"markedRead"`
	Unread     int      `json:"unread"`
}

type CloseThreadRequest struct {
	User string `json:"user"`
}

type CloseThreadResponse struct{}

type SetVisibilityRequest struct {
	User    string `json:"user"`
	Visible bool   `json:"visible"`
}

type SetVisibilityResponse struct{}

type RosterRequest struct {
	// User, when set, excludes the caller and fills unread counts.
	User string `json:"user,omitempty"`
}

type RosterResponse struct {
	People []Person `json:"people"`
}

type UnreadRequest struct {
	User    string `json:"user"`
	Partner string `json:"partner,omitempty"`
}

type UnreadResponse struct {
	Total     int            `json:"total"`
	Counts    map[string]int `json:"counts,omitempty"`
	Published int            `json:"published"`
	Mode      string         `json:"mode"`
}

type ImportDirectoryRequest struct {
	People []roster.Person `json:"people"`
}

type ImportDirectoryResponse struct {
	Imported int `json:"imported"`
}

type SetUsernameRequest struct {
	Email  string `json:"email"`
	Handle string `json:"handle"`
}

type SetUsernameResponse struct {
	Username string `json:"username"`
}

type StatusRequest struct{}

type StatusResponse struct {
	Profile     string   `json:"profile"`
	Backend     string   `json:"backend"`
	Codec       string   `json:"codec"`
	UnreadMode  string   `json:"unreadMode"`
	Users       []string `json:"users"`
	UptimeMs    int64    `json:"uptimeMs"`
	RelayOrigin string   `json:"relayOrigin,omitempty"`
}

type WatchEventsRequest struct {
	// User limits the stream to events involving that user.
	User string `json:"user,omitempty"`
	// Kinds are event prefixes; empty means every kind.
	Kinds []string `json:"kinds,omitempty"`
}

// EventEnvelope is one streamed bus event. Payload holds a protobuf-encoded
// google.protobuf.Struct.
type EventEnvelope struct {
	EventID          string `json:"eventId"`
	Profile          string `json:"profile"`
	OccurredAtUnixMs int64  `json:"occurredAtUnixMs"`
	Kind             string `json:"kind"`
	Origin           string `json:"origin,omitempty"`
	PayloadVersion   int    `json:"payloadVersion"`
	Payload          []byte `json:"payload,omitempty"`
}
