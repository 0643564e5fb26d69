package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
)

// MembershipSource отдаёт разговоры пользователя для восстановления комнат
// при (пере)подключении. Реализация — репозиторий разговоров.
type MembershipSource interface {
	GetConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// TypingSink и PresenceSink принимают входящие сигналы сокета. Объявлены
// здесь, чтобы разорвать цикл с пакетом сервисов: сервисы видят хаб как
// Broadcaster, хаб видит сервисы через Bind.
type TypingSink interface {
	Set(ctx context.Context, userID, conversationID string, isTyping bool) error
}

type PresenceSink interface {
	Update(ctx context.Context, userID string, status model.PresenceStatus) error
	Disconnect(ctx context.Context, userID string)
}

// Hub — реестр комнат fan-out. Членство в комнатах живёт только в памяти
// процесса: оно строится заново на каждом подключении из данных о членстве
// и умирает вместе с соединением.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	byUser   map[string]map[*Client]struct{}
	total    int
	maxConns int

	membership MembershipSource
	typing     TypingSink
	presence   PresenceSink

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(membership MembershipSource, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		byUser:     make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		membership: membership,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Bind подключает приёмники входящих сигналов. Вызывается один раз при
// сборке приложения, до Run.
func (h *Hub) Bind(typing TypingSink, presence PresenceSink) {
	h.typing = typing
	h.presence = presence
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, clients := range h.byUser {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.byUser = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Комнаты соединения: все разговоры пользователя плюс его тенант.
	convIDs, err := h.membership.GetConversationIDsForUser(ctx, c.userID)
	if err != nil {
		logger.Errorf("ws rebuild rooms user=%s: %v", c.userID, err)
	}

	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.byUser[c.userID]; !ok {
		h.byUser[c.userID] = make(map[*Client]struct{})
	}
	h.byUser[c.userID][c] = struct{}{}
	h.total++
	firstConn := len(h.byUser[c.userID]) == 1

	h.joinLocked(c, TenantRoom(c.tenantID))
	for _, id := range convIDs {
		h.joinLocked(c, ConversationRoom(id))
	}
	h.mu.Unlock()

	if firstConn && h.presence != nil {
		if err := h.presence.Update(ctx, c.userID, model.StatusOnline); err != nil {
			logger.Errorf("ws set online user=%s: %v", c.userID, err)
		}
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.byUser[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastConn := len(clients) == 0
	if lastConn {
		delete(h.byUser, c.userID)
	}
	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastConn && h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.presence.Disconnect(ctx, c.userID)
	}
}

func (h *Hub) joinLocked(c *Client, room string) {
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// HandleIncoming dispatches client signals read from the socket.
func (h *Hub) HandleIncoming(ctx context.Context, c *Client, msg Incoming) {
	switch msg.Type {
	case EventTyping:
		h.handleTyping(ctx, c, msg)
	case EventPresence:
		h.handlePresence(ctx, c, msg)
	default:
		h.sendToClient(c, Outgoing{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg Incoming) {
	if msg.ConversationID == "" || h.typing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := h.typing.Set(ctx, c.userID, msg.ConversationID, msg.IsTyping); err != nil {
		logger.Errorf("ws typing user=%s conversation=%s: %v", c.userID, msg.ConversationID, err)
		h.sendToClient(c, Outgoing{Type: EventError, Payload: "typing failed"})
	}
}

func (h *Hub) handlePresence(ctx context.Context, c *Client, msg Incoming) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := h.presence.Update(ctx, c.userID, model.PresenceStatus(msg.Status)); err != nil {
		logger.Errorf("ws presence user=%s: %v", c.userID, err)
		h.sendToClient(c, Outgoing{Type: EventError, Payload: "presence failed"})
	}
}

// ToConversation публикует событие в комнату разговора. Fire-and-forget:
// отсутствие подписчиков — не ошибка.
func (h *Hub) ToConversation(conversationID, event string, payload any) {
	h.publish(ConversationRoom(conversationID), Outgoing{Type: EventType(event), Payload: payload})
}

// ToTenant публикует событие всем подключённым пользователям тенанта.
func (h *Hub) ToTenant(tenantID, event string, payload any) {
	h.publish(TenantRoom(tenantID), Outgoing{Type: EventType(event), Payload: payload})
}

// JoinConversation подписывает живые соединения пользователей на комнату
// нового разговора, чтобы событие о его создании дошло до всех участников.
func (h *Hub) JoinConversation(conversationID string, userIDs []string) {
	room := ConversationRoom(conversationID)
	h.mu.Lock()
	for _, uid := range userIDs {
		for c := range h.byUser[uid] {
			h.joinLocked(c, room)
		}
	}
	h.mu.Unlock()
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

func (h *Hub) publish(room string, msg Outgoing) {
	h.mu.RLock()
	members, ok := h.rooms[room]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg Outgoing) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
