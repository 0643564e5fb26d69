package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/repository"
)

// In-memory хранилища для тестов сервисов: та же семантика уникальных
// ключей, что и у Postgres-репозиториев, без самой БД.

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]model.User
}

func newFakeUserStore(users ...model.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]model.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (s *fakeUserStore) GetByIDs(_ context.Context, ids []string) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeUserStore) SearchInTenant(_ context.Context, tenantID, query string, limit int) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.User
	for _, u := range s.users {
		if u.TenantID == tenantID && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeUserStore) SetStatus(_ context.Context, userID string, status model.PresenceStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = status
	u.LastSeenAt = at
	s.users[userID] = u
	return nil
}

func (s *fakeUserStore) PromoteAwayToOnline(_ context.Context, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.Status != model.StatusAway {
		return false, nil
	}
	u.Status = model.StatusOnline
	u.LastSeenAt = at
	s.users[userID] = u
	return true, nil
}

type fakeConversationStore struct {
	mu           sync.Mutex
	convs        map[string]model.Conversation
	participants map[string][]string
	directKeys   map[string]string // direct_key -> conversation id
	accessCount  map[string]int

	// findMisses заставляет FindDirect промахнуться N раз — имитация гонки,
	// когда pre-check не видит строку, которую вот-вот вставит соперник.
	findMisses int
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{
		convs:        make(map[string]model.Conversation),
		participants: make(map[string][]string),
		directKeys:   make(map[string]string),
		accessCount:  make(map[string]int),
	}
}

func (s *fakeConversationStore) Create(_ context.Context, c *model.Conversation, participantIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.IsGroup && len(participantIDs) == 2 {
		key := model.DirectKey(participantIDs[0], participantIDs[1])
		if _, exists := s.directKeys[key]; exists {
			return repository.ErrConflict
		}
		s.directKeys[key] = c.ID
	}
	s.convs[c.ID] = *c
	s.participants[c.ID] = append([]string(nil), participantIDs...)
	return nil
}

func (s *fakeConversationStore) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok || c.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (s *fakeConversationStore) FindDirect(_ context.Context, directKey string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findMisses > 0 {
		s.findMisses--
		return nil, repository.ErrNotFound
	}
	id, ok := s.directKeys[directKey]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := s.convs[id]
	return &c, nil
}

func (s *fakeConversationStore) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.participants[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeConversationStore) GetParticipantIDs(_ context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.participants[conversationID]...), nil
}

func (s *fakeConversationStore) GetParticipants(_ context.Context, conversationID string) ([]model.User, error) {
	return nil, nil
}

func (s *fakeConversationStore) ListForUser(_ context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Conversation
	for id, members := range s.participants {
		for _, m := range members {
			if m == userID {
				if c := s.convs[id]; c.DeletedAt == nil {
					out = append(out, c)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *fakeConversationStore) TouchUpdatedAt(_ context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if ok && c.UpdatedAt.Before(at) {
		c.UpdatedAt = at
		s.convs[conversationID] = c
	}
	return nil
}

func (s *fakeConversationStore) RecordAccess(_ context.Context, userID, conversationID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessCount[userID+"/"+conversationID]++
	return nil
}

type fakeMessageStore struct {
	mu   sync.Mutex
	msgs map[string]model.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{msgs: make(map[string]model.Message)}
}

func (s *fakeMessageStore) Create(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[m.ID] = *m
	return nil
}

func (s *fakeMessageStore) GetByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok || m.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (s *fakeMessageStore) list(conversationID string, keep func(m model.Message) bool) []model.Message {
	var out []model.Message
	for _, m := range s.msgs {
		if m.ConversationID == conversationID && m.DeletedAt == nil && keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *fakeMessageStore) ListRoot(_ context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return window(s.list(conversationID, func(m model.Message) bool { return m.ThreadID == nil }), limit, offset), nil
}

func (s *fakeMessageStore) ListThread(_ context.Context, conversationID, threadID string, limit, offset int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return window(s.list(conversationID, func(m model.Message) bool {
		return m.ID == threadID || (m.ThreadID != nil && *m.ThreadID == threadID)
	}), limit, offset), nil
}

func window(msgs []model.Message, limit, offset int) []model.Message {
	if offset >= len(msgs) {
		return nil
	}
	msgs = msgs[offset:]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs
}

func (s *fakeMessageStore) GetLastMessage(_ context.Context, conversationID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.list(conversationID, func(model.Message) bool { return true })
	if len(all) == 0 {
		return nil, nil
	}
	last := all[len(all)-1]
	return &last, nil
}

func (s *fakeMessageStore) UpdateBody(_ context.Context, id, body string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Body = body
	m.Edited = true
	m.EditedAt = &editedAt
	s.msgs[id] = m
	return nil
}

func (s *fakeMessageStore) SoftDelete(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.DeletedAt = &at
	m.Body = ""
	s.msgs[id] = m
	return nil
}

type receiptKey struct{ messageID, userID string }

type fakeReceiptStore struct {
	mu       sync.Mutex
	receipts map[receiptKey]time.Time
	writes   map[receiptKey]int // сколько раз пара реально вставлялась
	msgs     *fakeMessageStore
}

func newFakeReceiptStore(msgs *fakeMessageStore) *fakeReceiptStore {
	return &fakeReceiptStore{
		receipts: make(map[receiptKey]time.Time),
		writes:   make(map[receiptKey]int),
		msgs:     msgs,
	}
}

func (s *fakeReceiptStore) MarkRead(_ context.Context, userID string, messageIDs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range messageIDs {
		k := receiptKey{id, userID}
		if _, exists := s.receipts[k]; !exists {
			s.receipts[k] = at
			s.writes[k]++
		}
	}
	return nil
}

func (s *fakeReceiptStore) UnreadCount(_ context.Context, userID, conversationID string) (int, error) {
	s.msgs.mu.Lock()
	all := s.msgs.list(conversationID, func(model.Message) bool { return true })
	s.msgs.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range all {
		if m.SenderID == userID {
			continue
		}
		if _, read := s.receipts[receiptKey{m.ID, userID}]; !read {
			count++
		}
	}
	return count, nil
}

func (s *fakeReceiptStore) FilterUnread(_ context.Context, userID string, messageIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var unread []string
	for _, id := range messageIDs {
		if _, read := s.receipts[receiptKey{id, userID}]; !read {
			unread = append(unread, id)
		}
	}
	return unread, nil
}

func (s *fakeReceiptStore) has(messageID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.receipts[receiptKey{messageID, userID}]
	return ok
}

func (s *fakeReceiptStore) writeCount(messageID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[receiptKey{messageID, userID}]
}

type reactionKey struct{ messageID, userID, emoji string }

type fakeReactionStore struct {
	mu        sync.Mutex
	reactions map[reactionKey]time.Time
}

func newFakeReactionStore() *fakeReactionStore {
	return &fakeReactionStore{reactions: make(map[reactionKey]time.Time)}
}

func (s *fakeReactionStore) Add(_ context.Context, messageID, userID, emoji string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := reactionKey{messageID, userID, emoji}
	if _, exists := s.reactions[k]; exists {
		return false, nil
	}
	s.reactions[k] = at
	return true, nil
}

func (s *fakeReactionStore) Remove(_ context.Context, messageID, userID, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reactions, reactionKey{messageID, userID, emoji})
	return nil
}

func (s *fakeReactionStore) ListByMessages(_ context.Context, messageIDs []string) ([]model.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Reaction
	for _, id := range messageIDs {
		for k, at := range s.reactions {
			if k.messageID == id {
				out = append(out, model.Reaction{MessageID: k.messageID, UserID: k.userID, Emoji: k.emoji, CreatedAt: at})
			}
		}
	}
	return out, nil
}

func (s *fakeReactionStore) count(messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.reactions {
		if k.messageID == messageID {
			n++
		}
	}
	return n
}

type fakeTypingStore struct {
	mu    sync.Mutex
	state map[string]model.TypingIndicator
}

func newFakeTypingStore() *fakeTypingStore {
	return &fakeTypingStore{state: make(map[string]model.TypingIndicator)}
}

func (s *fakeTypingStore) Upsert(_ context.Context, conversationID, userID string, isTyping bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[conversationID+"/"+userID] = model.TypingIndicator{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		UpdatedAt:      at,
	}
	return nil
}

// recordedEvent — одно опубликованное событие fan-out.
type recordedEvent struct {
	Room    string
	Event   string
	Payload any
}

// fakeBroadcaster пишет публикации в журнал вместо сокетов.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
	online map[string]bool
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{online: make(map[string]bool)}
}

func (b *fakeBroadcaster) ToConversation(conversationID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Room: "conversation:" + conversationID, Event: event, Payload: payload})
}

func (b *fakeBroadcaster) ToTenant(tenantID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Room: "tenant:" + tenantID, Event: event, Payload: payload})
}

func (b *fakeBroadcaster) JoinConversation(string, []string) {}

func (b *fakeBroadcaster) IsOnline(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online[userID]
}

func (b *fakeBroadcaster) eventsOfType(event string) []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedEvent
	for _, e := range b.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type nopAudit struct{}

func (nopAudit) Record(string, string, map[string]any) {}

func timeNowUTC() time.Time { return time.Now().UTC() }
