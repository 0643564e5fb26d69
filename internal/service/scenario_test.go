package service

import (
	"context"
	"testing"
)

// Сквозной сценарий: создание диалога, переписка, прочтение, правка,
// реакция туда-обратно, индикатор печати.
func TestDirectConversationScenario(t *testing.T) {
	e := newTestEnv(user("alice", "t1"), user("bob", "t1"))
	ctx := context.Background()

	// 1. Личный диалог с ровно двумя участниками.
	conv, err := e.convSvc.Create(ctx, "alice", "t1", CreateConversationRequest{ParticipantIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ids, _ := e.convs.GetParticipantIDs(ctx, conv.ID)
	if conv.IsGroup || len(ids) != 2 {
		t.Fatalf("expected direct conversation with 2 participants, got group=%v n=%d", conv.IsGroup, len(ids))
	}

	// 2. "hello": у боба непрочитанное, у алисы нет.
	msg, err := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if n, _ := e.receipts.UnreadCount(ctx, "bob", conv.ID); n != 1 {
		t.Fatalf("bob unread = %d, expected 1", n)
	}
	if n, _ := e.receipts.UnreadCount(ctx, "alice", conv.ID); n != 0 {
		t.Fatalf("alice unread = %d, expected 0", n)
	}

	// 3. Боб открывает диалог: квитанция вставлена, непрочитанных ноль.
	if _, err := e.msgSvc.List(ctx, "bob", conv.ID, 1, 50, nil); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !e.receipts.has(msg.ID, "bob") {
		t.Fatal("expected receipt (message, bob)")
	}
	if n, _ := e.receipts.UnreadCount(ctx, "bob", conv.ID); n != 0 {
		t.Fatalf("bob unread after open = %d, expected 0", n)
	}

	// 4. Правка: edited выставлен, событие ушло.
	edited, err := e.msgSvc.Edit(ctx, "alice", msg.ID, "hello there")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !edited.Edited || edited.EditedAt == nil {
		t.Fatal("edited flags not set")
	}
	if len(e.bus.eventsOfType("message-updated")) != 1 {
		t.Fatal("expected message-updated broadcast")
	}

	// 5. Реакция дважды: итоговое число реакций ноль.
	e.reactSvc.Toggle(ctx, "bob", msg.ID, "👍")
	e.reactSvc.Toggle(ctx, "bob", msg.ID, "👍")
	if e.reacts.count(msg.ID) != 0 {
		t.Fatalf("net reactions = %d, expected 0", e.reacts.count(msg.ID))
	}

	// 6. Печать вкл/выкл: два события, итоговое состояние false.
	e.typeSvc.Set(ctx, "alice", conv.ID, true)
	e.typeSvc.Set(ctx, "alice", conv.ID, false)
	if len(e.bus.eventsOfType("typing-indicator")) != 2 {
		t.Fatal("expected 2 typing-indicator broadcasts")
	}
	if e.typing.state[conv.ID+"/alice"].IsTyping {
		t.Fatal("final typing state should be false")
	}
}
