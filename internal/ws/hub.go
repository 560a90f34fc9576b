package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adoptly/chat-service/internal/logger"
	"github.com/adoptly/chat-service/internal/model"
	"github.com/adoptly/chat-service/internal/presence"
	"github.com/adoptly/chat-service/internal/repository"
)

// opTimeout bounds the persistence calls made from connect/disconnect
// transitions, which run outside any request context.
const opTimeout = 5 * time.Second

// Hub owns all live connections and routes events between them.
// One Hub per process; Run must be started before Register is called.
type Hub struct {
	mu sync.RWMutex
	// clients indexes live connections by user: one user may hold several
	// simultaneous connections (phone + laptop).
	clients map[string]map[*Client]struct{}
	// rooms indexes connections subscribed to a room.
	rooms map[string]map[*Client]struct{}
	total int

	maxConns int

	users     UserStore
	roomStore RoomStore
	messages  MessageStore
	reactions ReactionStore
	registry  *presence.Registry
	push      PushNotifier
	publisher StatusPublisher

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
}

// HubDeps collects the hub's collaborators. Push and Publisher may be nil.
type HubDeps struct {
	Users     UserStore
	Rooms     RoomStore
	Messages  MessageStore
	Reactions ReactionStore
	Registry  *presence.Registry
	Push      PushNotifier
	Publisher StatusPublisher
}

func NewHub(deps HubDeps, maxConns int) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		users:      deps.Users,
		roomStore:  deps.Rooms,
		messages:   deps.Messages,
		reactions:  deps.Reactions,
		registry:   deps.Registry,
		push:       deps.Push,
		publisher:  deps.Publisher,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Run processes connection lifecycle events until ctx is cancelled, then
// closes every remaining client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

// Register hands an admitted client to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

// Unregister removes a client; called from readPump on connection teardown.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, conns := range h.clients {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	logger.Infof("hub shutdown, closed %d connections", len(all))
}

// ConnectionCount returns the number of live connections (not users).
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.maxConns > 0 && h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("hub connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: ErrorPayload{Message: "server is at capacity"}})
		c.Close()
		return
	}
	conns, ok := h.clients[c.userID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.clients[c.userID] = conns
	}
	conns[c] = struct{}{}
	h.total++
	h.mu.Unlock()

	wentOnline := h.registry.RecordConnect(c.userID, c.id, c.username, c.avatarURL)
	logger.Infof("client connected user=%s conn=%s online_users=%d", c.userID, c.id, h.registry.Count())

	if wentOnline {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := h.users.SetOnline(ctx, c.userID, true); err != nil {
			logger.Errorf("hub.addClient set online user=%s: %v", c.userID, err)
		}
		h.broadcastAllExceptUser(c.userID, OutgoingEvent{
			Type: EventUserOnline,
			Payload: UserStatusPayload{
				UserID:       c.userID,
				Name:         c.username,
				ProfileImage: c.avatarURL,
			},
		})
		if h.publisher != nil {
			h.publisher.PublishStatus(ctx, c.userID, c.username, true)
		}
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	conns, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.userID)
	}
	h.total--
	// Leave rooms silently: disconnecting is not the same as leaving.
	for roomID := range c.rooms {
		if members, ok := h.rooms[roomID]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	h.mu.Unlock()

	c.Close()

	wentOffline := h.registry.RecordDisconnect(c.userID, c.id)
	logger.Infof("client disconnected user=%s conn=%s online_users=%d", c.userID, c.id, h.registry.Count())

	if wentOffline {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := h.users.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("hub.removeClient set offline user=%s: %v", c.userID, err)
		}
		h.broadcastAllExceptUser(c.userID, OutgoingEvent{
			Type: EventUserOffline,
			Payload: UserStatusPayload{
				UserID: c.userID,
				Name:   c.username,
			},
		})
		if h.publisher != nil {
			h.publisher.PublishStatus(ctx, c.userID, c.username, false)
		}
	}
}

// --- delivery primitives ---

// sendToClient enqueues an event for one connection. A full send buffer
// means the client is not draining; the connection is closed rather than
// letting it stall the hub.
func (h *Hub) sendToClient(c *Client, ev OutgoingEvent) {
	select {
	case <-c.done:
	case c.send <- ev:
	default:
		logger.Errorf("send buffer full, dropping connection user=%s conn=%s", c.userID, c.id)
		c.Close()
	}
}

// sendToUser delivers an event to every live connection of one user.
func (h *Hub) sendToUser(userID string, ev OutgoingEvent) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.sendToClient(c, ev)
	}
}

// broadcastToRoom delivers to every connection subscribed to the room except
// the connections of exceptUserID ("" means no exclusion).
func (h *Hub) broadcastToRoom(roomID string, ev OutgoingEvent, exceptUserID string) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		if exceptUserID != "" && c.userID == exceptUserID {
			continue
		}
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.sendToClient(c, ev)
	}
}

// broadcastAllExceptUser delivers to every live connection except those of
// one user; used for global online/offline announcements.
func (h *Hub) broadcastAllExceptUser(exceptUserID string, ev OutgoingEvent) {
	h.mu.RLock()
	conns := make([]*Client, 0, h.total)
	for userID, set := range h.clients {
		if userID == exceptUserID {
			continue
		}
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.sendToClient(c, ev)
	}
}

// --- event dispatch ---

// HandleEvent dispatches one client event. Runs on the client's readPump
// goroutine; a panic in a handler kills only this event, not the pump.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev IncomingEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic handling %s from user=%s: %v", ev.Type, c.userID, r)
			h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: ErrorPayload{Message: "internal error"}})
		}
	}()
	defer logger.DeferLogDuration("hub.HandleEvent."+string(ev.Type), time.Now())()

	switch ev.Type {
	case EventRoomJoin:
		h.handleRoomJoin(ctx, c, ev)
	case EventRoomLeave:
		h.handleRoomLeave(c, ev)
	case EventMessageSend:
		h.handleMessageSend(ctx, c, ev)
	case EventMessageRead:
		h.handleMessageRead(ctx, c, ev)
	case EventRoomMarkRead:
		h.handleRoomMarkRead(ctx, c, ev)
	case EventTypingStart:
		h.handleTyping(c, ev, EventTypingUserStart)
	case EventTypingStop:
		h.handleTyping(c, ev, EventTypingUserStop)
	case EventMessageReaction:
		h.handleReaction(ctx, c, ev)
	case EventUsersGetOnline:
		h.handleUsersGetOnline(c)
	default:
		h.sendToClient(c, OutgoingEvent{
			Type:    EventError,
			Payload: ErrorPayload{Message: fmt.Sprintf("unknown event type %q", ev.Type)},
		})
	}
}

func (h *Hub) sendError(c *Client, msg string) {
	h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: ErrorPayload{Message: msg}})
}

func (h *Hub) handleRoomJoin(ctx context.Context, c *Client, ev IncomingEvent) {
	if ev.RoomID == "" {
		h.sendError(c, "room_id is required")
		return
	}
	if _, err := h.roomStore.GetByID(ctx, ev.RoomID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.sendError(c, "room not found")
		} else {
			logger.Errorf("hub.handleRoomJoin get room=%s: %v", ev.RoomID, err)
			h.sendError(c, "failed to join room")
		}
		return
	}
	member, err := h.roomStore.IsParticipant(ctx, ev.RoomID, c.userID)
	if err != nil {
		logger.Errorf("hub.handleRoomJoin membership room=%s user=%s: %v", ev.RoomID, c.userID, err)
		h.sendError(c, "failed to join room")
		return
	}
	if !member {
		h.sendError(c, "you are not a participant of this room")
		return
	}

	h.mu.Lock()
	_, already := c.rooms[ev.RoomID]
	if !already {
		members, ok := h.rooms[ev.RoomID]
		if !ok {
			members = make(map[*Client]struct{})
			h.rooms[ev.RoomID] = members
		}
		members[c] = struct{}{}
		c.rooms[ev.RoomID] = struct{}{}
	}
	h.mu.Unlock()

	// Joining twice is not an error; the confirmation is re-sent either way.
	h.sendToClient(c, OutgoingEvent{Type: EventRoomJoined, Payload: RoomJoinedPayload{RoomID: ev.RoomID}})

	if !already {
		h.broadcastToRoom(ev.RoomID, OutgoingEvent{
			Type: EventUserJoinedRoom,
			Payload: UserJoinedRoomPayload{
				RoomID:       ev.RoomID,
				UserID:       c.userID,
				Name:         c.username,
				ProfileImage: c.avatarURL,
			},
		}, c.userID)
	}
}

func (h *Hub) handleRoomLeave(c *Client, ev IncomingEvent) {
	if ev.RoomID == "" {
		h.sendError(c, "room_id is required")
		return
	}
	// Leaving a room the connection never joined is a no-op, not an error.
	h.mu.Lock()
	_, joined := c.rooms[ev.RoomID]
	if joined {
		delete(c.rooms, ev.RoomID)
		if members, ok := h.rooms[ev.RoomID]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, ev.RoomID)
			}
		}
	}
	h.mu.Unlock()

	if joined {
		h.broadcastToRoom(ev.RoomID, OutgoingEvent{
			Type: EventUserLeftRoom,
			Payload: UserLeftRoomPayload{
				RoomID: ev.RoomID,
				UserID: c.userID,
				Name:   c.username,
			},
		}, c.userID)
	}
}

func (h *Hub) handleMessageSend(ctx context.Context, c *Client, ev IncomingEvent) {
	sendErr := func(msg string) {
		h.sendToClient(c, OutgoingEvent{Type: EventMessageError, Payload: MessageErrorPayload{Error: msg}})
	}

	if ev.RoomID == "" {
		sendErr("room_id is required")
		return
	}
	content := strings.TrimSpace(ev.Content)
	if content == "" {
		sendErr("message content is empty")
		return
	}
	msgType := ev.MessageType
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	if msgType != model.MessageTypeText && msgType != model.MessageTypeImage && msgType != model.MessageTypeSystem {
		sendErr(fmt.Sprintf("unsupported message type %q", msgType))
		return
	}

	if _, err := h.roomStore.GetByID(ctx, ev.RoomID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendErr("room not found")
		} else {
			logger.Errorf("hub.handleMessageSend get room=%s: %v", ev.RoomID, err)
			sendErr("failed to send message")
		}
		return
	}
	member, err := h.roomStore.IsParticipant(ctx, ev.RoomID, c.userID)
	if err != nil {
		logger.Errorf("hub.handleMessageSend membership room=%s user=%s: %v", ev.RoomID, c.userID, err)
		sendErr("failed to send message")
		return
	}
	if !member {
		sendErr("you are not a participant of this room")
		return
	}

	msg := &model.Message{
		RoomID:      ev.RoomID,
		SenderID:    c.userID,
		Content:     content,
		MessageType: msgType,
	}
	if ev.ReplyTo != "" {
		msg.ReplyToID = &ev.ReplyTo
	}
	if err := h.messages.Create(ctx, msg); err != nil {
		logger.Errorf("hub.handleMessageSend create room=%s user=%s: %v", ev.RoomID, c.userID, err)
		sendErr("failed to send message")
		return
	}

	// Re-read the stored row with sender and reply preview populated so every
	// recipient gets the same fully hydrated message.
	full, err := h.messages.GetByID(ctx, msg.ID)
	if err != nil {
		logger.Errorf("hub.handleMessageSend reload message=%s: %v", msg.ID, err)
		sendErr("failed to send message")
		return
	}
	if err := h.roomStore.SetLastMessage(ctx, ev.RoomID, full.ID, full.CreatedAt); err != nil {
		logger.Errorf("hub.handleMessageSend last message room=%s: %v", ev.RoomID, err)
		sendErr("failed to send message")
		return
	}
	if err := h.roomStore.IncrementUnread(ctx, ev.RoomID, c.userID); err != nil {
		logger.Errorf("hub.handleMessageSend unread room=%s: %v", ev.RoomID, err)
		sendErr("failed to send message")
		return
	}

	out := OutgoingEvent{Type: EventMessageNew, Payload: full}

	// Fan-out: the sender's connection, the live room group, then every
	// connection of every participant. A sender can legitimately receive the
	// same message several times; clients dedupe by message id.
	h.sendToClient(c, out)
	h.broadcastToRoom(ev.RoomID, out, c.userID)

	participants, err := h.roomStore.GetParticipants(ctx, ev.RoomID)
	if err != nil {
		// The message is already visible to the live room; log and move on.
		logger.Errorf("hub.handleMessageSend participants room=%s: %v", ev.RoomID, err)
	}
	for _, p := range participants {
		h.sendToUser(p.UserID, out)
	}

	h.sendToClient(c, OutgoingEvent{Type: EventMessageSent, Payload: MessageSentPayload{MessageID: full.ID}})

	if h.push != nil {
		for _, p := range participants {
			if p.UserID == c.userID || h.registry.IsOnline(p.UserID) {
				continue
			}
			h.push.Notify(ctx, p.UserID, c.username, previewText(full), map[string]string{
				"room_id":    ev.RoomID,
				"message_id": full.ID,
			})
		}
	}
}

// previewText shortens message content for push notification bodies.
func previewText(m *model.Message) string {
	if m.MessageType == model.MessageTypeImage {
		return "sent an image"
	}
	const max = 120
	runes := []rune(m.Content)
	if len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return m.Content
}

func (h *Hub) handleMessageRead(ctx context.Context, c *Client, ev IncomingEvent) {
	if ev.MessageID == "" || ev.RoomID == "" {
		h.sendError(c, "message_id and room_id are required")
		return
	}
	now := time.Now().UTC()
	inserted, err := h.messages.MarkRead(ctx, ev.MessageID, c.userID, now)
	if err != nil {
		logger.Errorf("hub.handleMessageRead message=%s user=%s: %v", ev.MessageID, c.userID, err)
		h.sendError(c, "failed to mark message read")
		return
	}
	// Duplicate reads are absorbed: no error, no repeated broadcast.
	if !inserted {
		return
	}
	h.broadcastToRoom(ev.RoomID, OutgoingEvent{
		Type: EventMessageReadBy,
		Payload: MessageReadByPayload{
			MessageID: ev.MessageID,
			RoomID:    ev.RoomID,
			UserID:    c.userID,
			ReadAt:    now,
		},
	}, c.userID)
}

func (h *Hub) handleRoomMarkRead(ctx context.Context, c *Client, ev IncomingEvent) {
	if ev.RoomID == "" {
		h.sendError(c, "room_id is required")
		return
	}
	if err := h.roomStore.ResetUnread(ctx, ev.RoomID, c.userID); err != nil {
		logger.Errorf("hub.handleRoomMarkRead room=%s user=%s: %v", ev.RoomID, c.userID, err)
		h.sendError(c, "failed to mark room read")
		return
	}
	h.broadcastToRoom(ev.RoomID, OutgoingEvent{
		Type: EventRoomReadBy,
		Payload: RoomReadByPayload{
			RoomID: ev.RoomID,
			UserID: c.userID,
			ReadAt: time.Now().UTC(),
		},
	}, "")
}

// handleTyping relays typing signals to the rest of the room. Advisory only:
// nothing is persisted and failures are not reported back.
func (h *Hub) handleTyping(c *Client, ev IncomingEvent, out EventType) {
	if ev.RoomID == "" {
		return
	}
	h.mu.RLock()
	_, joined := c.rooms[ev.RoomID]
	h.mu.RUnlock()
	if !joined {
		return
	}
	h.broadcastToRoom(ev.RoomID, OutgoingEvent{
		Type: out,
		Payload: TypingPayload{
			RoomID: ev.RoomID,
			UserID: c.userID,
			Name:   c.username,
		},
	}, c.userID)
}

func (h *Hub) handleReaction(ctx context.Context, c *Client, ev IncomingEvent) {
	if ev.MessageID == "" || ev.RoomID == "" || ev.Emoji == "" {
		h.sendError(c, "message_id, room_id and emoji are required")
		return
	}
	member, err := h.roomStore.IsParticipant(ctx, ev.RoomID, c.userID)
	if err != nil {
		logger.Errorf("hub.handleReaction membership room=%s user=%s: %v", ev.RoomID, c.userID, err)
		h.sendError(c, "failed to react")
		return
	}
	if !member {
		h.sendError(c, "you are not a participant of this room")
		return
	}
	if err := h.reactions.Upsert(ctx, ev.MessageID, c.userID, ev.Emoji); err != nil {
		logger.Errorf("hub.handleReaction upsert message=%s: %v", ev.MessageID, err)
		h.sendError(c, "failed to react")
		return
	}
	reactions, err := h.reactions.GetByMessage(ctx, ev.MessageID)
	if err != nil {
		logger.Errorf("hub.handleReaction reload message=%s: %v", ev.MessageID, err)
		h.sendError(c, "failed to react")
		return
	}
	// Everyone in the room, reactor included, gets the full current set.
	h.broadcastToRoom(ev.RoomID, OutgoingEvent{
		Type: EventReactionUpdated,
		Payload: ReactionUpdatedPayload{
			MessageID: ev.MessageID,
			RoomID:    ev.RoomID,
			Reactions: reactions,
			UpdatedBy: c.userID,
		},
	}, "")
}

func (h *Hub) handleUsersGetOnline(c *Client) {
	h.sendToClient(c, OutgoingEvent{
		Type:    EventUsersOnlineList,
		Payload: OnlineListPayload{Users: h.registry.ListOthers(c.userID)},
	})
}
