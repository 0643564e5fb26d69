package service

import (
	"context"
	"testing"
)

func TestTypingIndicatorBroadcasts(t *testing.T) {
	e, conv := twoUserConv(t)
	ctx := context.Background()

	if err := e.typeSvc.Set(ctx, "alice", conv.ID, true); err != nil {
		t.Fatalf("set typing true: %v", err)
	}
	if err := e.typeSvc.Set(ctx, "alice", conv.ID, false); err != nil {
		t.Fatalf("set typing false: %v", err)
	}

	events := e.bus.eventsOfType("typing-indicator")
	if len(events) != 2 {
		t.Fatalf("expected 2 typing broadcasts, got %d", len(events))
	}

	// Последнее известное состояние — не печатает.
	state := e.typing.state[conv.ID+"/alice"]
	if state.IsTyping {
		t.Fatal("final typing state should be false")
	}
}
