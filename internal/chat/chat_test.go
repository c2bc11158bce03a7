package chat

import (
	"context"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"palaver/internal/coord"
	"palaver/internal/models"
	"palaver/internal/notify"
	"palaver/internal/recent"
)

// mockDocs is an in-memory DocumentStore with injectable list failures.
type mockDocs struct {
	mu        sync.Mutex
	rooms     map[string]models.Room
	messages  map[string]models.Message
	users     map[string]models.User
	files     map[string]ownedFile
	failLists int
	listDelay time.Duration
	listCalls int
}

type ownedFile struct {
	summary models.FileSummary
	ownerID string
}

func newMockDocs() *mockDocs {
	return &mockDocs{
		rooms:    make(map[string]models.Room),
		messages: make(map[string]models.Message),
		users:    make(map[string]models.User),
		files:    make(map[string]ownedFile),
	}
}

func (d *mockDocs) GetRoom(id string) (models.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.rooms[id]
	if !ok {
		return models.Room{}, models.ErrNotFound
	}
	return room, nil
}

func (d *mockDocs) AddRoomMember(roomID, userID string) (models.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.rooms[roomID]
	if !ok {
		return models.Room{}, models.ErrNotFound
	}
	if !slices.Contains(room.Members, userID) {
		room.Members = append(room.Members, userID)
		d.rooms[roomID] = room
	}
	return room, nil
}

func (d *mockDocs) RemoveRoomMember(roomID, userID string) (models.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.rooms[roomID]
	if !ok {
		return models.Room{}, models.ErrNotFound
	}
	if i := slices.Index(room.Members, userID); i >= 0 {
		room.Members = append(room.Members[:i:i], room.Members[i+1:]...)
		d.rooms[roomID] = room
	}
	return room, nil
}

func (d *mockDocs) InsertMessage(msg models.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages[msg.ID] = msg
	return nil
}

func (d *mockDocs) GetMessage(id string) (models.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg, ok := d.messages[id]
	if !ok {
		return models.Message{}, models.ErrNotFound
	}
	return msg, nil
}

func (d *mockDocs) UpdateMessage(msg models.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.messages[msg.ID]; !ok {
		return models.ErrNotFound
	}
	d.messages[msg.ID] = msg
	return nil
}

func (d *mockDocs) SoftDeleteMessage(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg, ok := d.messages[id]
	if !ok {
		return models.ErrNotFound
	}
	msg.Deleted = true
	d.messages[id] = msg
	return nil
}

func (d *mockDocs) MarkMessagesRead(ids []string, readerID string, at int64) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var updated []string
	for _, id := range ids {
		msg, ok := d.messages[id]
		if !ok {
			continue
		}
		if msg.MarkReadBy(readerID, at) {
			d.messages[id] = msg
			updated = append(updated, id)
		}
	}
	return updated, nil
}

func (d *mockDocs) ListMessagesBefore(roomID string, before int64, limit int) ([]models.Message, error) {
	d.mu.Lock()
	d.listCalls++
	fail := d.failLists > 0
	if fail {
		d.failLists--
	}
	delay := d.listDelay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return nil, models.ErrNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.Message
	for _, msg := range d.messages {
		if msg.RoomID != roomID || msg.Deleted {
			continue
		}
		if before > 0 && msg.Timestamp >= before {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *mockDocs) GetUser(id string) (models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[id]
	if !ok {
		return models.User{}, models.ErrNotFound
	}
	return user, nil
}

func (d *mockDocs) UserSummary(id string) (models.UserSummary, error) {
	user, err := d.GetUser(id)
	if err != nil {
		return models.UserSummary{}, err
	}
	return models.UserSummary{ID: user.ID, DisplayName: user.DisplayName}, nil
}

func (d *mockDocs) OwnedFileSummary(id, ownerID string) (models.FileSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[id]
	if !ok || f.ownerID != ownerID {
		return models.FileSummary{}, models.ErrNotFound
	}
	return f.summary, nil
}

func (d *mockDocs) EnrichMessage(msg *models.Message) {
	if msg.SenderID == "" {
		return
	}
	if summary, err := d.UserSummary(msg.SenderID); err == nil {
		msg.Sender = &summary
	}
}

func (d *mockDocs) EnrichMessages(msgs []models.Message) {
	for i := range msgs {
		d.EnrichMessage(&msgs[i])
	}
}

func (d *mockDocs) messagesOfType(mt models.MessageType) []models.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.Message
	for _, msg := range d.messages {
		if msg.Type == mt {
			out = append(out, msg)
		}
	}
	return out
}

type mockSessions struct {
	mu         sync.Mutex
	valid      bool
	reason     string
	touched    []string
	lastActive map[string]int64
}

func (m *mockSessions) Validate(identityID, token string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid, m.reason
}

func (m *mockSessions) Touch(identityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, identityID)
}

func (m *mockSessions) LastActive(identityID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.lastActive[identityID]
	return at, ok
}

type roomEvent struct {
	roomID string
	ev     models.Event
}

type connEvent struct {
	connID string
	ev     models.Event
}

// mockEvents records every delivery attempt instead of delivering.
type mockEvents struct {
	mu         sync.Mutex
	broadcasts []roomEvent
	sends      []connEvent
	closes     []connEvent
	moves      []connEvent
	done       map[string]chan struct{}
	deadConns  map[string]bool
}

func newMockEvents() *mockEvents {
	return &mockEvents{
		done:      make(map[string]chan struct{}),
		deadConns: make(map[string]bool),
	}
}

func (m *mockEvents) Broadcast(roomID string, ev models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, roomEvent{roomID: roomID, ev: ev})
}

func (m *mockEvents) SendTo(connID string, ev models.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deadConns[connID] {
		return false
	}
	m.sends = append(m.sends, connEvent{connID: connID, ev: ev})
	return true
}

func (m *mockEvents) CloseConn(connID string, ev models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes = append(m.closes, connEvent{connID: connID, ev: ev})
	if ch, ok := m.done[connID]; ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

func (m *mockEvents) Done(connID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.done[connID]
	if !ok {
		ch = make(chan struct{})
		m.done[connID] = ch
	}
	return ch
}

// finish marks a connection as gone, closing its done channel.
func (m *mockEvents) finish(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.done[connID]
	if !ok {
		ch = make(chan struct{})
		m.done[connID] = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (m *mockEvents) MoveToRoom(connID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves = append(m.moves, connEvent{connID: connID, ev: models.Event{RoomID: roomID}})
}

func (m *mockEvents) broadcastsOfType(t models.EventType) []roomEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []roomEvent
	for _, b := range m.broadcasts {
		if b.ev.Type == t {
			out = append(out, b)
		}
	}
	return out
}

func (m *mockEvents) sendsTo(connID string) []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Event
	for _, s := range m.sends {
		if s.connID == connID {
			out = append(out, s.ev)
		}
	}
	return out
}

type replyCall struct {
	roomID string
	kind   string
	query  string
}

type mockReplies struct {
	runs chan replyCall
}

func newMockReplies() *mockReplies {
	return &mockReplies{runs: make(chan replyCall, 16)}
}

func (m *mockReplies) Run(ctx context.Context, roomID, assistantKind, query string) {
	m.runs <- replyCall{roomID: roomID, kind: assistantKind, query: query}
}

type fixture struct {
	svc      *Service
	store    *coord.Memory
	docs     *mockDocs
	sessions *mockSessions
	events   *mockEvents
	replies  *mockReplies
	cache    *recent.Cache
	sleeps   []time.Duration
	sleepMu  sync.Mutex
}

func (f *fixture) recordedSleeps() []time.Duration {
	f.sleepMu.Lock()
	defer f.sleepMu.Unlock()
	return slices.Clone(f.sleeps)
}

var testNow = time.UnixMilli(1_700_000_000_000)

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{
		store:    coord.NewMemory(ctx),
		docs:     newMockDocs(),
		sessions: &mockSessions{valid: true},
		events:   newMockEvents(),
		replies:  newMockReplies(),
	}
	f.cache = recent.New(f.store, time.Minute, 50)
	f.svc = NewService(cfg, f.store, f.docs, f.sessions, f.events, f.replies, f.cache, notify.New("", "", ""))
	f.svc.now = func() time.Time { return testNow }
	f.svc.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleepMu.Lock()
		f.sleeps = append(f.sleeps, d)
		f.sleepMu.Unlock()
		return nil
	}
	return f
}

func (f *fixture) addRoom(id string, members ...string) {
	f.docs.mu.Lock()
	defer f.docs.mu.Unlock()
	f.docs.rooms[id] = models.Room{ID: id, Name: id, Members: members}
}

func (f *fixture) addUser(id, name string) {
	f.docs.mu.Lock()
	defer f.docs.mu.Unlock()
	f.docs.users[id] = models.User{ID: id, UserName: id, DisplayName: name, Status: models.UserStatusActive}
}

func (f *fixture) addMessage(id, roomID string, ts int64) {
	f.docs.mu.Lock()
	defer f.docs.mu.Unlock()
	f.docs.messages[id] = models.Message{
		ID:        id,
		RoomID:    roomID,
		SenderID:  "alice",
		Type:      models.MessageTypeText,
		Content:   "msg " + id,
		Timestamp: ts,
	}
}

func ident(id string) models.Identity {
	return models.Identity{ID: id, DisplayName: id, Token: "tok-" + id}
}
