package memorylimiter

import (
	"context"
	"testing"
	"time"
)

func TestAllowNamedSlidingWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(map[string]Limit{"login": {Limit: 2, Window: time.Minute}})
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.AllowNamed(ctx, "login", "1.2.3.4")
		if err != nil || !ok {
			t.Fatalf("request %d: expected allow, got ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := l.AllowNamed(ctx, "login", "1.2.3.4"); ok {
		t.Fatal("expected third request to be denied")
	}
	if ok, _ := l.AllowNamed(ctx, "login", "5.6.7.8"); !ok {
		t.Fatal("expected other client to be allowed")
	}

	now = now.Add(61 * time.Second)
	if ok, _ := l.AllowNamed(ctx, "login", "1.2.3.4"); !ok {
		t.Fatal("expected allow after window elapsed")
	}
}

func TestAllowNamedDefaultsAndValidation(t *testing.T) {
	l := New(map[string]Limit{"default": {Limit: 1, Window: time.Minute}})
	ctx := context.Background()
	if ok, _ := l.AllowNamed(ctx, "any", "k"); !ok {
		t.Fatal("expected first request allowed")
	}
	if ok, _ := l.AllowNamed(ctx, "any", "k"); ok {
		t.Fatal("expected default limit to apply")
	}
	if _, err := l.AllowNamed(ctx, "", "k"); err == nil {
		t.Fatal("expected error for empty bucket")
	}
	var nilLimiter *Limiter
	if ok, err := nilLimiter.AllowNamed(ctx, "b", "k"); !ok || err != nil {
		t.Fatal("nil limiter must allow")
	}
}
