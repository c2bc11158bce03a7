package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID               string `msgpack:"id"`
	UserName         string `msgpack:"userName"`
	DisplayName      string `msgpack:"displayName"`
	AvatarURL        string `msgpack:"avatarUrl"`
	Status           string `msgpack:"status"`
	PushSubscription string `msgpack:"pushSubscription"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBCredentials struct {
	UserID       string `msgpack:"userId"`
	Username     string `msgpack:"username"`
	DisplayName  string `msgpack:"displayName"`
	PasswordHash string `msgpack:"passwordHash"`
}

func (c *DBCredentials) Key() []byte {
	return []byte(c.Username)
}

func (c *DBCredentials) MarshalBinary() (data []byte, err error) {
	type alias DBCredentials
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCredentials) UnmarshalBinary(data []byte) error {
	type alias DBCredentials
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBRoom struct {
	ID           string   `msgpack:"id"`
	Name         string   `msgpack:"name"`
	PasswordHash string   `msgpack:"passwordHash"`
	Members      []string `msgpack:"members"`
	CreatedBy    string   `msgpack:"createdBy"`
	CreatedAt    int64    `msgpack:"createdAt"`
}

func (r *DBRoom) Key() []byte {
	return []byte(r.ID)
}

func (r *DBRoom) MarshalBinary() (data []byte, err error) {
	type alias DBRoom
	return msgpack.Marshal((*alias)(r))
}

func (r *DBRoom) UnmarshalBinary(data []byte) error {
	type alias DBRoom
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBReadReceipt struct {
	ReaderID string `msgpack:"readerId"`
	ReadAt   int64  `msgpack:"readAt"`
}

type DBMessage struct {
	ID            string              `msgpack:"id"`
	RoomID        string              `msgpack:"roomId"`
	SenderID      string              `msgpack:"senderId"`
	Type          string              `msgpack:"type"`
	Content       string              `msgpack:"content"`
	FileID        string              `msgpack:"fileId"`
	AssistantKind string              `msgpack:"assistantKind"`
	Timestamp     int64               `msgpack:"timestamp"`
	ReadBy        []DBReadReceipt     `msgpack:"readBy"`
	Reactions     map[string][]string `msgpack:"reactions"`
	Metadata      map[string]string   `msgpack:"metadata"`
	Deleted       bool                `msgpack:"deleted"`
}

// Key orders messages by timestamp within a room bucket: 8 bytes of
// big-endian unix milliseconds followed by the raw message UUID to break
// ties between same-millisecond messages.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8, 24)
	binary.BigEndian.PutUint64(key, uint64(m.Timestamp))
	if id, err := uuid.Parse(m.ID); err == nil {
		key = append(key, id[:]...)
	} else {
		key = append(key, []byte(m.ID)...)
	}
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef locates a message record from its ID alone.
type DBMessageRef struct {
	RoomID string `msgpack:"roomId"`
	MsgKey []byte `msgpack:"msgKey"`
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}
