package notifications

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type flakyNotifier struct {
	err   error
	calls int
}

func (f *flakyNotifier) SendProfileMissingAlert(context.Context, ProfileMissingAlert) error {
	f.calls++
	return f.err
}

func TestProtectedNotifier_OpensAfterThreshold(t *testing.T) {
	inner := &flakyNotifier{err: errors.New("smtp down")}
	n := NewProtectedNotifier(inner, ProtectedNotifierConfig{FailureThreshold: 2, Cooldown: time.Minute})

	clock := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return clock }

	ctx := context.Background()
	alert := ProfileMissingAlert{UserID: "u1", Email: "s1@x.com"}

	for i := 0; i < 2; i++ {
		if err := n.SendProfileMissingAlert(ctx, alert); err == nil {
			t.Fatalf("expected provider error")
		}
	}
	if n.State() != stateOpen {
		t.Fatalf("expected open circuit, got %s", n.State())
	}

	if err := n.SendProfileMissingAlert(ctx, alert); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("open circuit should not call the provider, calls=%d", inner.calls)
	}

	clock = clock.Add(2 * time.Minute)
	inner.err = nil

	if err := n.SendProfileMissingAlert(ctx, alert); err != nil {
		t.Fatalf("half-open trial should succeed: %v", err)
	}
	if n.State() != stateClosed {
		t.Fatalf("expected closed circuit after success, got %s", n.State())
	}
}

func TestProtectedNotifier_HalfOpenFailureReopens(t *testing.T) {
	inner := &flakyNotifier{err: errors.New("smtp down")}
	n := NewProtectedNotifier(inner, ProtectedNotifierConfig{FailureThreshold: 1, Cooldown: time.Second})

	clock := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return clock }

	_ = n.SendProfileMissingAlert(context.Background(), ProfileMissingAlert{})
	clock = clock.Add(2 * time.Second)
	_ = n.SendProfileMissingAlert(context.Background(), ProfileMissingAlert{})

	if n.State() != stateOpen {
		t.Fatalf("failed trial should reopen, got %s", n.State())
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(io.Discard, nil)))

	if err := n.SendProfileMissingAlert(context.Background(), ProfileMissingAlert{UserID: "u1"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	n.Fail = true
	if err := n.SendProfileMissingAlert(context.Background(), ProfileMissingAlert{}); !errors.Is(err, ErrProviderDown) {
		t.Fatalf("expected ErrProviderDown, got %v", err)
	}

	n.Fail = false
	n.Delay = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.SendProfileMissingAlert(ctx, ProfileMissingAlert{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
