package model

import "testing"

func TestDirectKeyOrderIndependent(t *testing.T) {
	if DirectKey("alice", "bob") != DirectKey("bob", "alice") {
		t.Fatal("direct key must not depend on argument order")
	}
	if DirectKey("alice", "bob") != "alice:bob" {
		t.Fatalf("unexpected key %q", DirectKey("alice", "bob"))
	}
}

func TestIsDirectKey(t *testing.T) {
	cases := map[string]bool{
		"alice:bob": true,
		"bob:alice": false, // не отсортировано
		"alice":     false,
		":bob":      false,
		"alice:":    false,
	}
	for key, want := range cases {
		if got := IsDirectKey(key); got != want {
			t.Errorf("IsDirectKey(%q) = %v, expected %v", key, got, want)
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []PresenceStatus{StatusOnline, StatusAway, StatusBusy, StatusOffline} {
		if !ValidStatus(s) {
			t.Errorf("status %s should be valid", s)
		}
	}
	if ValidStatus("sleeping") {
		t.Error("unknown status accepted")
	}
}
