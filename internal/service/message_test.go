package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teamchat/internal/model"
)

// twoUserConv готовит личный диалог alice↔bob.
func twoUserConv(t *testing.T) (*testEnv, *model.Conversation) {
	t.Helper()
	e := newTestEnv(user("alice", "t1"), user("bob", "t1"), user("eve", "t1"))
	conv, err := e.convSvc.Create(context.Background(), "alice", "t1", CreateConversationRequest{ParticipantIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return e, conv
}

func TestSendMessageUnreadMonotonicity(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	msg, err := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Отправитель прочитал своё сообщение в той же транзакции.
	// Фейковый MessageStore не вставляет квитанцию сам, как Postgres-репозиторий,
	// поэтому непрочитанность отправителя проверяется по senderID.
	bobUnread, _ := e.receipts.UnreadCount(ctx, "bob", conv.ID)
	aliceUnread, _ := e.receipts.UnreadCount(ctx, "alice", conv.ID)
	if bobUnread != 1 {
		t.Fatalf("bob unread = %d, expected 1", bobUnread)
	}
	if aliceUnread != 0 {
		t.Fatalf("alice unread = %d, expected 0", aliceUnread)
	}

	events := e.bus.eventsOfType("new-message")
	if len(events) != 1 {
		t.Fatalf("expected 1 new-message event, got %d", len(events))
	}
	got, ok := events[0].Payload.(*model.Message)
	if !ok || got.ID != msg.ID {
		t.Fatalf("broadcast payload mismatch: %+v", events[0].Payload)
	}
}

func TestListMarksViewedAsRead(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	msg, err := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := e.msgSvc.List(ctx, "bob", conv.ID, 1, 50, nil); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !e.receipts.has(msg.ID, "bob") {
		t.Fatal("expected receipt for bob after viewing")
	}
	unread, _ := e.receipts.UnreadCount(ctx, "bob", conv.ID)
	if unread != 0 {
		t.Fatalf("bob unread = %d after viewing, expected 0", unread)
	}

	// Повторный просмотр (вторая вкладка) не плодит квитанции и не падает.
	if _, err := e.msgSvc.List(ctx, "bob", conv.ID, 1, 50, nil); err != nil {
		t.Fatalf("second list: %v", err)
	}
}

func TestMarkReadConcurrentAtMostOnce(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	msg, err := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Один разговор открыт сразу в нескольких вкладках: просмотры идут
	// параллельно, но квитанция вставляется ровно один раз.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.msgSvc.List(ctx, "bob", conv.ID, 1, 50, nil); err != nil {
				t.Errorf("list: %v", err)
			}
		}()
	}
	wg.Wait()

	if !e.receipts.has(msg.ID, "bob") {
		t.Fatal("expected receipt for bob after concurrent viewing")
	}
	if n := e.receipts.writeCount(msg.ID, "bob"); n != 1 {
		t.Fatalf("receipt inserted %d times, expected exactly 1", n)
	}
	unread, _ := e.receipts.UnreadCount(ctx, "bob", conv.ID)
	if unread != 0 {
		t.Fatalf("bob unread = %d after viewing, expected 0", unread)
	}
}

func TestThreadIsolation(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	root, err := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "root"})
	if err != nil {
		t.Fatalf("send root: %v", err)
	}
	reply, err := e.msgSvc.Send(ctx, "bob", SendMessageRequest{ConversationID: conv.ID, Body: "reply", ParentID: &root.ID})
	if err != nil {
		t.Fatalf("send reply: %v", err)
	}
	if reply.ThreadID == nil || *reply.ThreadID != root.ID {
		t.Fatalf("reply thread = %v, expected root %s", reply.ThreadID, root.ID)
	}

	// Основная лента треды скрывает.
	main, err := e.msgSvc.List(ctx, "alice", conv.ID, 1, 50, nil)
	if err != nil {
		t.Fatalf("list main: %v", err)
	}
	for _, m := range main {
		if m.ID == reply.ID {
			t.Fatal("thread reply leaked into main timeline")
		}
	}

	// Запрос треда возвращает корень и ответ.
	thread, err := e.msgSvc.List(ctx, "alice", conv.ID, 1, 50, &root.ID)
	if err != nil {
		t.Fatalf("list thread: %v", err)
	}
	if len(thread) != 2 || thread[0].ID != root.ID || thread[1].ID != reply.ID {
		t.Fatalf("thread listing wrong: %d messages", len(thread))
	}
}

func TestReplyToReplyAttachesToRootThread(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	root, _ := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "root"})
	first, _ := e.msgSvc.Send(ctx, "bob", SendMessageRequest{ConversationID: conv.ID, Body: "r1", ParentID: &root.ID})
	second, err := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "r2", ParentID: &first.ID})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if second.ThreadID == nil || *second.ThreadID != root.ID {
		t.Fatalf("nested reply thread = %v, expected root %s", second.ThreadID, root.ID)
	}
}

func TestSendValidation(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	if _, err := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "  "}); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty body: expected ErrValidation, got %v", err)
	}
	if _, err := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "x", Kind: "voice"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad kind: expected ErrValidation, got %v", err)
	}

	ghost := "no-such-message"
	if _, err := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "x", ParentID: &ghost}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ghost parent: expected ErrNotFound, got %v", err)
	}
}

func TestSendAuthorizationBoundary(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	if _, err := e.msgSvc.Send(ctx, "eve", SendMessageRequest{ConversationID: conv.ID, Body: "hi"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("send: expected ErrForbidden, got %v", err)
	}
	if _, err := e.msgSvc.List(ctx, "eve", conv.ID, 1, 50, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("list: expected ErrForbidden, got %v", err)
	}
	if err := e.typeSvc.Set(ctx, "eve", conv.ID, true); !errors.Is(err, ErrForbidden) {
		t.Fatalf("typing: expected ErrForbidden, got %v", err)
	}

	msg, _ := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "mine"})
	if _, err := e.msgSvc.Edit(ctx, "bob", msg.ID, "hacked"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("edit: expected ErrForbidden, got %v", err)
	}
	if err := e.msgSvc.Delete(ctx, "bob", msg.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete: expected ErrForbidden, got %v", err)
	}
}

func TestEditMessage(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	msg, _ := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "hello"})
	edited, err := e.msgSvc.Edit(ctx, "alice", msg.ID, "hello there")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !edited.Edited || edited.EditedAt == nil || edited.Body != "hello there" {
		t.Fatalf("edit not applied: %+v", edited)
	}
	if len(e.bus.eventsOfType("message-updated")) != 1 {
		t.Fatal("expected message-updated broadcast")
	}
}

func TestDeleteMessageSoft(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	msg, _ := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "oops"})
	if err := e.msgSvc.Delete(ctx, "alice", msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Удалённое сообщение исчезает из ленты и недоступно для правки.
	main, _ := e.msgSvc.List(ctx, "alice", conv.ID, 1, 50, nil)
	for _, m := range main {
		if m.ID == msg.ID {
			t.Fatal("deleted message still listed")
		}
	}
	if _, err := e.msgSvc.Edit(ctx, "alice", msg.ID, "late"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("edit deleted: expected ErrNotFound, got %v", err)
	}

	// Событие удаления несёт только идентификаторы.
	events := e.bus.eventsOfType("message-deleted")
	if len(events) != 1 {
		t.Fatal("expected message-deleted broadcast")
	}
	payload, ok := events[0].Payload.(map[string]string)
	if !ok || payload["message_id"] != msg.ID {
		t.Fatalf("delete payload wrong: %+v", events[0].Payload)
	}
	if _, leaked := payload["body"]; leaked {
		t.Fatal("deleted message content leaked into broadcast")
	}
}

func TestSendPromotesAwaySender(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	e.users.SetStatus(ctx, "alice", model.StatusAway, time.Now().UTC())
	if _, err := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "ping"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	u, _ := e.users.GetByID(ctx, "alice")
	if u.Status != model.StatusOnline {
		t.Fatalf("sender status = %s, expected online", u.Status)
	}
	if len(e.bus.eventsOfType("user-status-changed")) == 0 {
		t.Fatal("expected user-status-changed broadcast")
	}
}
