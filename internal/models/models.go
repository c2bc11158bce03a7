package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

type MessageType string

const (
	MessageTypeText      MessageType = "text"
	MessageTypeSystem    MessageType = "system"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeFile      MessageType = "file"
)

// Identity is an authenticated user for the duration of one connection.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Token       string `json:"-"`
	IssuedAt    int64  `json:"issuedAt"`
}

type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User is the persisted profile record behind an identity.
type User struct {
	ID               string     `json:"id"`
	UserName         string     `json:"userName"`
	DisplayName      string     `json:"displayName"`
	AvatarURL        string     `json:"avatarUrl"`
	Status           UserStatus `json:"status"`
	PushSubscription string     `json:"-"`
}

// UserSummary is the denormalized sender/reader view inlined into messages.
type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// FileSummary is the denormalized file view inlined into file messages.
type FileSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	MimeType    string `json:"mimeType"`
	Size        int64  `json:"size"`
}

// Room is a named, optionally password-protected group of identities.
type Room struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	PasswordHash string   `json:"-"`
	Members      []string `json:"members"`
	CreatedBy    string   `json:"createdBy"`
	CreatedAt    int64    `json:"createdAt"`
}

func (r *Room) Protected() bool {
	return r.PasswordHash != ""
}

// ReadReceipt records one reader having seen a message.
type ReadReceipt struct {
	ReaderID string `json:"readerId"`
	ReadAt   int64  `json:"readAt"`
}

// Message is a chat message. Timestamps are unix milliseconds.
//
// Content is required unless Type is file; AssistantKind is set iff Type is
// assistant; FileID is set iff Type is file. Sender, File and Readers are
// enrichment fields filled from the user and file records, empty on the raw
// persisted record.
type Message struct {
	ID            string              `json:"id"`
	RoomID        string              `json:"roomId"`
	SenderID      string              `json:"senderId,omitempty"`
	Type          MessageType         `json:"type"`
	Content       string              `json:"content,omitempty"`
	FileID        string              `json:"fileId,omitempty"`
	AssistantKind string              `json:"assistantKind,omitempty"`
	Timestamp     int64               `json:"timestamp"`
	ReadBy        []ReadReceipt       `json:"readBy,omitempty"`
	Reactions     map[string][]string `json:"reactions,omitempty"`
	Metadata      map[string]string   `json:"metadata,omitempty"`
	Deleted       bool                `json:"-"`

	Sender  *UserSummary  `json:"sender,omitempty"`
	File    *FileSummary  `json:"file,omitempty"`
	Readers []UserSummary `json:"readers,omitempty"`
}

// MarkReadBy appends a read receipt. ReadBy is append-only; marking a
// message read twice by the same reader is a no-op.
func (m *Message) MarkReadBy(readerID string, at int64) bool {
	for _, r := range m.ReadBy {
		if r.ReaderID == readerID {
			return false
		}
	}
	m.ReadBy = append(m.ReadBy, ReadReceipt{ReaderID: readerID, ReadAt: at})
	return true
}

// AddReaction adds reactorID under label. Idempotent.
func (m *Message) AddReaction(label, reactorID string) bool {
	for _, id := range m.Reactions[label] {
		if id == reactorID {
			return false
		}
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	m.Reactions[label] = append(m.Reactions[label], reactorID)
	return true
}

// RemoveReaction removes reactorID from label. Removing a reaction that was
// never added is a no-op.
func (m *Message) RemoveReaction(label, reactorID string) bool {
	ids := m.Reactions[label]
	for i, id := range ids {
		if id == reactorID {
			m.Reactions[label] = append(ids[:i:i], ids[i+1:]...)
			if len(m.Reactions[label]) == 0 {
				delete(m.Reactions, label)
			}
			return true
		}
	}
	return false
}
