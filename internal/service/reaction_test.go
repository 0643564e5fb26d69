package service

import (
	"context"
	"errors"
	"testing"
)

func TestReactionToggleIsItsOwnInverse(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	msg, err := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	first, err := e.reactSvc.Toggle(ctx, "bob", msg.ID, "👍")
	if err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if !first.Added {
		t.Fatal("first toggle should add")
	}
	if e.reacts.count(msg.ID) != 1 {
		t.Fatalf("expected 1 reaction, got %d", e.reacts.count(msg.ID))
	}

	second, err := e.reactSvc.Toggle(ctx, "bob", msg.ID, "👍")
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if second.Added {
		t.Fatal("second toggle should remove")
	}
	if e.reacts.count(msg.ID) != 0 {
		t.Fatalf("expected 0 reactions, got %d", e.reacts.count(msg.ID))
	}

	if len(e.bus.eventsOfType("reaction-added")) != 1 || len(e.bus.eventsOfType("reaction-removed")) != 1 {
		t.Fatal("expected one added and one removed broadcast")
	}
}

func TestReactionToggleDifferentEmojiCoexist(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	msg, _ := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "hello"})
	e.reactSvc.Toggle(ctx, "bob", msg.ID, "👍")
	e.reactSvc.Toggle(ctx, "bob", msg.ID, "🎉")
	e.reactSvc.Toggle(ctx, "alice", msg.ID, "👍")

	if e.reacts.count(msg.ID) != 3 {
		t.Fatalf("expected 3 distinct reactions, got %d", e.reacts.count(msg.ID))
	}
}

func TestReactionToggleGuards(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	msg, _ := e.msgSvc.Send(ctx, "alice", SendMessageRequest{ConversationID: conv.ID, Body: "hello"})

	if _, err := e.reactSvc.Toggle(ctx, "eve", msg.ID, "👍"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-member: expected ErrForbidden, got %v", err)
	}
	if _, err := e.reactSvc.Toggle(ctx, "bob", "no-such-message", "👍"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing message: expected ErrNotFound, got %v", err)
	}
	if _, err := e.reactSvc.Toggle(ctx, "bob", msg.ID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty emoji: expected ErrValidation, got %v", err)
	}
}
