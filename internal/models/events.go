package models

// ClientFrameType enumerates frames a client may send over the socket.
type ClientFrameType string

const (
	ClientFrameJoin           ClientFrameType = "join"
	ClientFrameLeave          ClientFrameType = "leave"
	ClientFrameSend           ClientFrameType = "send"
	ClientFrameFetchPrevious  ClientFrameType = "fetchPrevious"
	ClientFrameAddReaction    ClientFrameType = "addReaction"
	ClientFrameRemoveReaction ClientFrameType = "removeReaction"
	ClientFrameMarkRead       ClientFrameType = "markRead"
	ClientFrameDeleteMessage  ClientFrameType = "deleteMessage"
)

// ClientFrame is the inbound wire frame. Which fields are meaningful depends
// on Type.
type ClientFrame struct {
	Type       ClientFrameType `json:"type"`
	RoomID     string          `json:"roomId,omitempty"`
	Password   string          `json:"password,omitempty"`
	MsgType    MessageType     `json:"msgType,omitempty"`
	Content    string          `json:"content,omitempty"`
	FileID     string          `json:"fileId,omitempty"`
	Before     int64           `json:"before,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
	Reaction   string          `json:"reaction,omitempty"`
	MessageIDs []string        `json:"messageIds,omitempty"`
}

type EventType string

const (
	EventJoinSuccess           EventType = "joinSuccess"
	EventJoinError             EventType = "joinError"
	EventMessage               EventType = "message"
	EventMembersUpdate         EventType = "membersUpdate"
	EventMessageLoadStart      EventType = "messageLoadStart"
	EventMessagesLoaded        EventType = "messagesLoaded"
	EventLoadError             EventType = "loadError"
	EventDuplicateLoginWarning EventType = "duplicateLoginWarning"
	EventSessionEnded          EventType = "sessionEnded"
	EventMessagesRead          EventType = "messagesRead"
	EventReactionUpdate        EventType = "reactionUpdate"
	EventMessageDeleted        EventType = "messageDeleted"
	EventReplyStarted          EventType = "replyStarted"
	EventReplyChunk            EventType = "replyChunk"
	EventReplyComplete         EventType = "replyComplete"
	EventReplyError            EventType = "replyError"
	EventSendError             EventType = "sendError"
)

// Event is the outbound wire frame. One envelope covers every event type;
// which fields are populated depends on Type.
type Event struct {
	Type            EventType           `json:"type"`
	RoomID          string              `json:"roomId,omitempty"`
	Message         *Message            `json:"message,omitempty"`
	Messages        []Message           `json:"messages,omitempty"`
	Members         []UserSummary       `json:"members,omitempty"`
	HasMore         bool                `json:"hasMore"`
	OldestTimestamp int64               `json:"oldestTimestamp,omitempty"`
	MessageID       string              `json:"messageId,omitempty"`
	MessageIDs      []string            `json:"messageIds,omitempty"`
	Identity        string              `json:"identity,omitempty"`
	Reactions       map[string][]string `json:"reactions,omitempty"`
	AssistantKind   string              `json:"assistantKind,omitempty"`
	Fragment        string              `json:"fragment,omitempty"`
	FullContent     string              `json:"fullContent,omitempty"`
	Content         string              `json:"content,omitempty"`
	IsComplete      bool                `json:"isComplete"`
	Timestamp       int64               `json:"timestamp,omitempty"`
	DeviceInfo      string              `json:"deviceInfo,omitempty"`
	IPAddress       string              `json:"ipAddress,omitempty"`
	Reason          string              `json:"reason,omitempty"`
	ErrorType       string              `json:"errorType,omitempty"`
	Error           string              `json:"error,omitempty"`
}
