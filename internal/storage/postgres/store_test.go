package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"multiwatch/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("MULTIWATCH_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MULTIWATCH_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	store, err := NewStore(ctx, dsn, fmt.Sprintf("test-%d", time.Now().UnixNano()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_, _ = store.pool.Exec(context.Background(), `DELETE FROM watch_values WHERE watch_name=$1`, store.name)
		_, _ = store.pool.Exec(context.Background(), `DELETE FROM watch_state WHERE name=$1`, store.name)
		store.Close()
	})
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return store
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := NewStore(context.Background(), "", "w"); err == nil {
		t.Fatalf("expected dsn error")
	}
	if _, err := NewStore(context.Background(), "postgres://localhost/db", ""); err == nil {
		t.Fatalf("expected name error")
	}
}

func TestPutUpdatesKeepsNewestBlock(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	observed := time.Now().UTC().Format(time.RFC3339)
	if err := store.PutUpdates(ctx, []model.UpdateRecord{
		{BlockNumber: 10, Key: "BALANCE", Value: "1.5", Args: []interface{}{"0xabc"}, ObservedAt: observed},
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.PutUpdates(ctx, []model.UpdateRecord{
		{BlockNumber: 9, Key: "BALANCE", Value: "0.5", ObservedAt: observed},
	}); err != nil {
		t.Fatalf("put older: %v", err)
	}

	values, err := store.LoadValues(ctx)
	if err != nil {
		t.Fatalf("load values: %v", err)
	}
	if values["BALANCE"] != "1.5" {
		t.Fatalf("older block overwrote value: %v", values)
	}
}

func TestStateNeverDecreases(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, ok, err := store.LoadState(ctx); err != nil || ok {
		t.Fatalf("expected no state, got ok=%v err=%v", ok, err)
	}
	if err := store.SaveState(ctx, 100); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveState(ctx, 90); err != nil {
		t.Fatalf("save: %v", err)
	}
	block, ok, err := store.LoadState(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if block != 100 {
		t.Fatalf("unexpected block: %d", block)
	}
}
