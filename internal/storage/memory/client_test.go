package memory

import (
	"context"
	"testing"
	"time"
)

func TestIncrWindow(t *testing.T) {
	c := New()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := c.IncrWindow(ctx, "k", time.Minute)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if n != want {
			t.Fatalf("count = %d, expected %d", n, want)
		}
	}
}

func TestIncrWindowExpires(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.IncrWindow(ctx, "k", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	n, err := c.IncrWindow(ctx, "k", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("incr: %v", err)
	}
	if n != 1 {
		t.Fatalf("count after expiry = %d, expected 1", n)
	}
}

func TestSetNX(t *testing.T) {
	c := New()
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "k", 10*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("first setnx: ok=%v err=%v", ok, err)
	}
	ok, _ = c.SetNX(ctx, "k", 10*time.Millisecond)
	if ok {
		t.Fatal("second setnx should report existing key")
	}

	time.Sleep(20 * time.Millisecond)
	ok, _ = c.SetNX(ctx, "k", 10*time.Millisecond)
	if !ok {
		t.Fatal("setnx after expiry should succeed")
	}
}
