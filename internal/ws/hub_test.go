package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/adoptly/chat-service/internal/model"
	"github.com/adoptly/chat-service/internal/presence"
	"github.com/adoptly/chat-service/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// --- in-memory fakes ---

type fakeUsers struct {
	mu     sync.Mutex
	online map[string]bool
	calls  int
}

func newFakeUsers() *fakeUsers { return &fakeUsers{online: make(map[string]bool)} }

func (f *fakeUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, Username: "u-" + id}, nil
}

func (f *fakeUsers) SetOnline(_ context.Context, userID string, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = online
	f.calls++
	return nil
}

type fakeRooms struct {
	mu        sync.Mutex
	rooms     map[string]*model.Room
	members   map[string]map[string]bool
	unread    map[string]int // key: roomID+"/"+userID
	incrCalls []string       // exceptUserID per IncrementUnread call
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		rooms:   make(map[string]*model.Room),
		members: make(map[string]map[string]bool),
		unread:  make(map[string]int),
	}
}

func (f *fakeRooms) addRoom(roomID string, userIDs ...string) {
	f.rooms[roomID] = &model.Room{ID: roomID}
	f.members[roomID] = make(map[string]bool)
	for _, id := range userIDs {
		f.members[roomID][id] = true
	}
}

func (f *fakeRooms) GetByID(_ context.Context, id string) (*model.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r, nil
}

func (f *fakeRooms) IsParticipant(_ context.Context, roomID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[roomID][userID], nil
}

func (f *fakeRooms) GetParticipants(_ context.Context, roomID string) ([]model.RoomParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.RoomParticipant, 0, len(f.members[roomID]))
	for id := range f.members[roomID] {
		out = append(out, model.RoomParticipant{RoomID: roomID, UserID: id})
	}
	return out, nil
}

func (f *fakeRooms) IncrementUnread(_ context.Context, roomID, exceptUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incrCalls = append(f.incrCalls, exceptUserID)
	for id := range f.members[roomID] {
		if id != exceptUserID {
			f.unread[roomID+"/"+id]++
		}
	}
	return nil
}

func (f *fakeRooms) ResetUnread(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread[roomID+"/"+userID] = 0
	return nil
}

func (f *fakeRooms) SetLastMessage(_ context.Context, roomID, messageID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rooms[roomID]; ok {
		r.LastMessageID = &messageID
		r.LastMessageAt = &at
	}
	return nil
}

type fakeMessages struct {
	mu    sync.Mutex
	byID  map[string]*model.Message
	reads map[string]map[string]bool // messageID -> userID
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		byID:  make(map[string]*model.Message),
		reads: make(map[string]map[string]bool),
	}
}

func (f *fakeMessages) Create(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now().UTC()
	cp := *m
	f.byID[m.ID] = &cp
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessages) MarkRead(_ context.Context, messageID, userID string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reads[messageID] == nil {
		f.reads[messageID] = make(map[string]bool)
	}
	if f.reads[messageID][userID] {
		return false, nil
	}
	f.reads[messageID][userID] = true
	return true, nil
}

type fakeReactions struct {
	mu    sync.Mutex
	byMsg map[string]map[string]model.Reaction // messageID -> userID
}

func newFakeReactions() *fakeReactions {
	return &fakeReactions{byMsg: make(map[string]map[string]model.Reaction)}
}

func (f *fakeReactions) Upsert(_ context.Context, messageID, userID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byMsg[messageID] == nil {
		f.byMsg[messageID] = make(map[string]model.Reaction)
	}
	f.byMsg[messageID][userID] = model.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}
	return nil
}

func (f *fakeReactions) GetByMessage(_ context.Context, messageID string) ([]model.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Reaction, 0, len(f.byMsg[messageID]))
	for _, r := range f.byMsg[messageID] {
		out = append(out, r)
	}
	return out, nil
}

type pushCall struct {
	userID string
	body   string
}

type fakePush struct {
	mu    sync.Mutex
	calls []pushCall
}

func (f *fakePush) Notify(_ context.Context, userID, _, body string, _ map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pushCall{userID: userID, body: body})
}

// --- helpers ---

type hubFixture struct {
	hub       *Hub
	users     *fakeUsers
	rooms     *fakeRooms
	messages  *fakeMessages
	reactions *fakeReactions
	push      *fakePush
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	f := &hubFixture{
		users:     newFakeUsers(),
		rooms:     newFakeRooms(),
		messages:  newFakeMessages(),
		reactions: newFakeReactions(),
		push:      &fakePush{},
	}
	f.hub = NewHub(HubDeps{
		Users:     f.users,
		Rooms:     f.rooms,
		Messages:  f.messages,
		Reactions: f.reactions,
		Registry:  presence.NewRegistry(),
		Push:      f.push,
	}, 0)
	return f
}

// connect builds a client without a real socket and registers it directly,
// bypassing the Run loop so tests stay deterministic.
func (f *hubFixture) connect(userID string) *Client {
	c := NewClient(f.hub, nil, &model.User{ID: userID, Username: "u-" + userID})
	f.hub.addClient(c)
	return c
}

func (f *hubFixture) join(t *testing.T, c *Client, roomID string) {
	t.Helper()
	drain(c) // clear presence broadcasts queued during setup
	f.hub.HandleEvent(context.Background(), c, IncomingEvent{Type: EventRoomJoin, RoomID: roomID})
	ev := requireEvent(t, c, EventRoomJoined)
	require.Equal(t, RoomJoinedPayload{RoomID: roomID}, ev.Payload)
}

// drain collects everything currently queued for a client.
func drain(c *Client) []OutgoingEvent {
	var out []OutgoingEvent
	for {
		select {
		case ev := <-c.send:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// requireEvent pops the next queued event and asserts its type.
func requireEvent(t *testing.T, c *Client, want EventType) OutgoingEvent {
	t.Helper()
	select {
	case ev := <-c.send:
		require.Equal(t, want, ev.Type)
		return ev
	default:
		t.Fatalf("no queued event, want %s", want)
		return OutgoingEvent{}
	}
}

func countType(evs []OutgoingEvent, typ EventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// --- tests ---

func TestJoinRoomNotFound(t *testing.T) {
	f := newHubFixture(t)
	c := f.connect("alice")
	drain(c)

	f.hub.HandleEvent(context.Background(), c, IncomingEvent{Type: EventRoomJoin, RoomID: "missing"})

	ev := requireEvent(t, c, EventError)
	require.Equal(t, ErrorPayload{Message: "room not found"}, ev.Payload)
}

func TestJoinNotAParticipant(t *testing.T) {
	f := newHubFixture(t)
	f.rooms.addRoom("r1", "bob")
	c := f.connect("alice")
	drain(c)

	f.hub.HandleEvent(context.Background(), c, IncomingEvent{Type: EventRoomJoin, RoomID: "r1"})

	ev := requireEvent(t, c, EventError)
	require.Equal(t, ErrorPayload{Message: "you are not a participant of this room"}, ev.Payload)
}

func TestJoinAnnouncesToOthers(t *testing.T) {
	f := newHubFixture(t)
	f.rooms.addRoom("r1", "alice", "bob")
	alice := f.connect("alice")
	bob := f.connect("bob")
	f.join(t, alice, "r1")
	drain(alice)
	drain(bob)

	f.join(t, bob, "r1")

	ev := requireEvent(t, alice, EventUserJoinedRoom)
	require.Equal(t, UserJoinedRoomPayload{RoomID: "r1", UserID: "bob", Name: "u-bob"}, ev.Payload)
	// Repeat join: confirmation again but no second announcement.
	f.hub.HandleEvent(context.Background(), bob, IncomingEvent{Type: EventRoomJoin, RoomID: "r1"})
	requireEvent(t, bob, EventRoomJoined)
	require.Empty(t, drain(alice))
}

func TestLeaveAnnouncesToRemaining(t *testing.T) {
	f := newHubFixture(t)
	f.rooms.addRoom("r1", "alice", "bob")
	alice := f.connect("alice")
	bob := f.connect("bob")
	f.join(t, alice, "r1")
	f.join(t, bob, "r1")
	drain(alice)
	drain(bob)

	f.hub.HandleEvent(context.Background(), bob, IncomingEvent{Type: EventRoomLeave, RoomID: "r1"})

	ev := requireEvent(t, alice, EventUserLeftRoom)
	require.Equal(t, UserLeftRoomPayload{RoomID: "r1", UserID: "bob", Name: "u-bob"}, ev.Payload)
	// Leaving again is silent.
	f.hub.HandleEvent(context.Background(), bob, IncomingEvent{Type: EventRoomLeave, RoomID: "r1"})
	require.Empty(t, drain(alice))
}

func TestMessageSendValidation(t *testing.T) {
	f := newHubFixture(t)
	f.rooms.addRoom("r1", "alice")
	c := f.connect("alice")
	f.join(t, c, "r1")
	drain(c)

	f.hub.HandleEvent(context.Background(), c, IncomingEvent{Type: EventMessageSend, RoomID: "r1", Content: "   "})

	ev := requireEvent(t, c, EventMessageError)
	require.Equal(t, MessageErrorPayload{Error: "message content is empty"}, ev.Payload)
	require.Empty(t, f.messages.byID, "nothing may be persisted on a rejected send")
	require.Empty(t, f.rooms.incrCalls)
}

func TestMessageSendNotAParticipant(t *testing.T) {
	f := newHubFixture(t)
	f.rooms.addRoom("r1", "bob")
	c := f.connect("alice")
	drain(c)

	f.hub.HandleEvent(context.Background(), c, IncomingEvent{Type: EventMessageSend, RoomID: "r1", Content: "hi"})

	ev := requireEvent(t, c, EventMessageError)
	require.Equal(t, MessageErrorPayload{Error: "you are not a participant of this room"}, ev.Payload)
	require.Empty(t, f.messages.byID)
}

func TestMessageSendFanOutAndUnread(t *testing.T) {
	f := newHubFixture(t)
	f.rooms.addRoom("r1", "alice", "bob")
	alice := f.connect("alice")
	bobPhone := f.connect("bob")
	bobLaptop := f.connect("bob")
	f.join(t, alice, "r1")
	f.join(t, bobPhone, "r1")
	drain(alice)
	drain(bobPhone)
	drain(bobLaptop)

	f.hub.HandleEvent(context.Background(), alice, IncomingEvent{Type: EventMessageSend, RoomID: "r1", Content: "hello bob"})

	// Both of bob's devices see the message, including the one that never
	// joined the room view.
	require.GreaterOrEqual(t, countType(drain(bobPhone), EventMessageNew), 1)
	require.GreaterOrEqual(t, countType(drain(bobLaptop), EventMessageNew), 1)

	aliceEvents := drain(alice)
	require.GreaterOrEqual(t, countType(aliceEvents, EventMessageNew), 1)
	require.Equal(t, 1, countType(aliceEvents, EventMessageSent))
	require.Equal(t, 0, countType(aliceEvents, EventMessageError))

	// Unread went up for bob only.
	require.Equal(t, []string{"alice"}, f.rooms.incrCalls)
	require.Equal(t, 1, f.rooms.unread["r1/bob"])
	require.Equal(t, 0, f.rooms.unread["r1/alice"])

	// Bob is online, so no push.
	require.Empty(t, f.push.calls)
}

func TestMessageSendPushesToOfflineParticipants(t *testing.T) {
	f := newHubFixture(t)
	f.rooms.addRoom("r1", "alice", "bob")
	alice := f.connect("alice")
	f.join(t, alice, "r1")
	drain(alice)

	f.hub.HandleEvent(context.Background(), alice, IncomingEvent{Type: EventMessageSend, RoomID: "r1", Content: "anyone home?"})

	require.Len(t, f.push.calls, 1)
	require.Equal(t, "bob", f.push.calls[0].userID)
	require.Equal(t, "anyone home?", f.push.calls[0].body)
}

func TestMessageReadIdempotent(t *testing.T) {
	f := newHubFixture(t)
	f.rooms.addRoom("r1", "alice", "bob")
	alice := f.connect("alice")
	bob := f.connect("bob")
	f.join(t, alice, "r1")
	f.join(t, bob, "r1")
	drain(alice)
	drain(bob)

	f.hub.HandleEvent(context.Background(), alice, IncomingEvent{Type: EventMessageSend, RoomID: "r1", Content: "hi"})
	var msgID string
	for id := range f.messages.byID {
		msgID = id
	}
	drain(alice)
	drain(bob)

	read := IncomingEvent{Type: EventMessageRead, RoomID: "r1", MessageID: msgID}
	f.hub.HandleEvent(context.Background(), bob, read)

	ev := requireEvent(t, alice, EventMessageReadBy)
	payload, ok := ev.Payload.(MessageReadByPayload)
	require.True(t, ok)
	require.Equal(t, msgID, payload.MessageID)
	require.Equal(t, "bob", payload.UserID)
	// The marker does not hear their own receipt.
	require.Empty(t, drain(bob))

	// Second read of the same message: absorbed, no broadcast, no error.
	f.hub.HandleEvent(context.Background(), bob, read)
	require.Empty(t, drain(alice))
	require.Empty(t, drain(bob))
}

func TestRoomMarkReadBroadcastsToWholeRoom(t *testing.T) {
	f := newHubFixture(t)
	f.rooms.addRoom("r1", "alice", "bob")
	alice := f.connect("alice")
	bob := f.connect("bob")
	f.join(t, alice, "r1")
	f.join(t, bob, "r1")
	f.rooms.unread["r1/bob"] = 3
	drain(alice)
	drain(bob)

	f.hub.HandleEvent(context.Background(), bob, IncomingEvent{Type: EventRoomMarkRead, RoomID: "r1"})

	require.Equal(t, 0, f.rooms.unread["r1/bob"])
	requireEvent(t, alice, EventRoomReadBy)
	// Unlike per-message receipts, the marker hears this one too.
	requireEvent(t, bob, EventRoomReadBy)
}

func TestTypingRelayedToOthersOnly(t *testing.T) {
	f := newHubFixture(t)
	f.rooms.addRoom("r1", "alice", "bob")
	alice := f.connect("alice")
	bob := f.connect("bob")
	f.join(t, alice, "r1")
	f.join(t, bob, "r1")
	drain(alice)
	drain(bob)

	f.hub.HandleEvent(context.Background(), alice, IncomingEvent{Type: EventTypingStart, RoomID: "r1"})
	ev := requireEvent(t, bob, EventTypingUserStart)
	require.Equal(t, TypingPayload{RoomID: "r1", UserID: "alice", Name: "u-alice"}, ev.Payload)
	require.Empty(t, drain(alice))

	f.hub.HandleEvent(context.Background(), alice, IncomingEvent{Type: EventTypingStop, RoomID: "r1"})
	requireEvent(t, bob, EventTypingUserStop)
}

func TestTypingIgnoredOutsideJoinedRoom(t *testing.T) {
	f := newHubFixture(t)
	f.rooms.addRoom("r1", "alice", "bob")
	alice := f.connect("alice")
	bob := f.connect("bob")
	f.join(t, bob, "r1")
	drain(alice)
	drain(bob)

	// Alice is a participant but never joined this connection to the room.
	f.hub.HandleEvent(context.Background(), alice, IncomingEvent{Type: EventTypingStart, RoomID: "r1"})
	require.Empty(t, drain(bob))
}

func TestReactionReplacesAndBroadcasts(t *testing.T) {
	f := newHubFixture(t)
	f.rooms.addRoom("r1", "alice", "bob")
	alice := f.connect("alice")
	bob := f.connect("bob")
	f.join(t, alice, "r1")
	f.join(t, bob, "r1")
	f.hub.HandleEvent(context.Background(), alice, IncomingEvent{Type: EventMessageSend, RoomID: "r1", Content: "look at this pup"})
	var msgID string
	for id := range f.messages.byID {
		msgID = id
	}
	drain(alice)
	drain(bob)

	react := IncomingEvent{Type: EventMessageReaction, RoomID: "r1", MessageID: msgID, Emoji: "❤️"}
	f.hub.HandleEvent(context.Background(), bob, react)

	ev := requireEvent(t, alice, EventReactionUpdated)
	payload := ev.Payload.(ReactionUpdatedPayload)
	require.Len(t, payload.Reactions, 1)
	require.Equal(t, "❤️", payload.Reactions[0].Emoji)
	require.Equal(t, "bob", payload.UpdatedBy)
	// Reactor sees the update too.
	requireEvent(t, bob, EventReactionUpdated)

	// Reacting again replaces, never stacks.
	react.Emoji = "🐶"
	f.hub.HandleEvent(context.Background(), bob, react)
	ev = requireEvent(t, alice, EventReactionUpdated)
	payload = ev.Payload.(ReactionUpdatedPayload)
	require.Len(t, payload.Reactions, 1)
	require.Equal(t, "🐶", payload.Reactions[0].Emoji)
}

func TestOnlineListExcludesRequester(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect("alice")
	f.connect("bob")
	drain(alice)

	f.hub.HandleEvent(context.Background(), alice, IncomingEvent{Type: EventUsersGetOnline})

	ev := requireEvent(t, alice, EventUsersOnlineList)
	payload := ev.Payload.(OnlineListPayload)
	require.Len(t, payload.Users, 1)
	require.Equal(t, "bob", payload.Users[0].UserID)
}

func TestPresenceTransitionsWithMultipleDevices(t *testing.T) {
	f := newHubFixture(t)
	watcher := f.connect("watcher")
	drain(watcher)

	phone := f.connect("bob")
	requireEvent(t, watcher, EventUserOnline)

	// Second device: no repeated announcement.
	laptop := f.connect("bob")
	require.Empty(t, drain(watcher))
	require.True(t, f.users.online["bob"])

	// Dropping one device keeps bob online.
	f.hub.removeClient(phone)
	require.Empty(t, drain(watcher))
	require.True(t, f.users.online["bob"])

	// Dropping the last one takes bob offline.
	f.hub.removeClient(laptop)
	requireEvent(t, watcher, EventUserOffline)
	require.False(t, f.users.online["bob"])
}

func TestUnknownEventType(t *testing.T) {
	f := newHubFixture(t)
	c := f.connect("alice")
	drain(c)

	f.hub.HandleEvent(context.Background(), c, IncomingEvent{Type: "bogus:event"})

	ev := requireEvent(t, c, EventError)
	require.Contains(t, ev.Payload.(ErrorPayload).Message, "unknown event type")
}

func TestConnectionLimit(t *testing.T) {
	f := newHubFixture(t)
	f.hub.maxConns = 1
	f.connect("alice")

	c := NewClient(f.hub, nil, &model.User{ID: "bob", Username: "u-bob"})
	f.hub.addClient(c)

	ev := requireEvent(t, c, EventError)
	require.Equal(t, ErrorPayload{Message: "server is at capacity"}, ev.Payload)
	require.Equal(t, 1, f.hub.ConnectionCount())
	require.False(t, f.hub.registry.IsOnline("bob"))
}
