package signature

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func openTestL2(t *testing.T) *L2 {
	t.Helper()
	l2, err := OpenL2(":memory:")
	if err != nil {
		t.Fatalf("OpenL2: %v", err)
	}
	t.Cleanup(func() { l2.Close() })
	return l2
}

func TestL2_SetGetRoundTrip(t *testing.T) {
	l2 := openTestL2(t)
	ctx := context.Background()
	now := time.Now()

	entry := Entry{
		Signature:    validSig(),
		ThinkingHash: "hash-1",
		Namespace:    "thinking",
		CreatedAt:    now,
	}
	if err := l2.Set(ctx, "key-1", entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := l2.Get(ctx, "key-1", now)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Signature != validSig() {
		t.Errorf("expected signature round-tripped, got %q", got.Signature)
	}
}

func TestL2_Get_MissReturnsNoError(t *testing.T) {
	l2 := openTestL2(t)
	_, ok, err := l2.Get(context.Background(), "missing", time.Now())
	if err != nil || ok {
		t.Errorf("expected a clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestL2_Clear_ScopedByNamespace(t *testing.T) {
	l2 := openTestL2(t)
	ctx := context.Background()
	now := time.Now()

	l2.Set(ctx, "a", Entry{Signature: validSig(), ThinkingHash: "h1", Namespace: "thinking", CreatedAt: now})
	l2.Set(ctx, "b", Entry{Signature: validSig(), ThinkingHash: "h2", Namespace: "other", CreatedAt: now})

	if err := l2.Clear(ctx, "thinking", ""); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := l2.Get(ctx, "a", now); ok {
		t.Error("expected the thinking-namespace entry cleared")
	}
	if _, ok, _ := l2.Get(ctx, "b", now); !ok {
		t.Error("expected the other-namespace entry to survive")
	}
}

func TestL2_PurgeExpired(t *testing.T) {
	l2 := openTestL2(t)
	ctx := context.Background()
	now := time.Now()

	l2.Set(ctx, "expired", Entry{Signature: validSig(), ThinkingHash: "h1", Namespace: "thinking", CreatedAt: now, ExpiresAt: now.Add(-time.Hour)})
	l2.Set(ctx, "fresh", Entry{Signature: validSig(), ThinkingHash: "h2", Namespace: "thinking", CreatedAt: now})

	n, err := l2.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row purged, got %d", n)
	}
}

func TestL2_ToolSetGetRoundTrip(t *testing.T) {
	l2 := openTestL2(t)
	ctx := context.Background()
	if err := l2.ToolSet(ctx, ToolEntry{ToolID: "toolu_1", Signature: validSig()}); err != nil {
		t.Fatalf("ToolSet: %v", err)
	}
	got, ok, err := l2.ToolGet(ctx, "toolu_1", time.Now())
	if err != nil || !ok || got.Signature != validSig() {
		t.Fatalf("ToolGet: got=%+v ok=%v err=%v", got, ok, err)
	}
}

// TestL2_Get_PropagatesDriverError exercises the error path a flaky disk or
// a locked database would produce, without needing to actually corrupt a
// file: go-sqlmock substitutes a scripted driver behind the same database/sql
// interface L2 uses.
func TestL2_Get_PropagatesDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT signature, thinking_hash").WillReturnError(errors.New("database is locked"))

	l2 := &L2{db: db}
	_, _, err = l2.Get(context.Background(), "key-1", time.Now())
	if err == nil {
		t.Fatal("expected the driver error propagated")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}
