package transcript

import (
	"context"
	"path/filepath"
	"testing"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	dsn := "sqlite:file:" + filepath.Join(t.TempDir(), "t.sqlite")
	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndListOrdered(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	for i := 1; i <= 3; i++ {
		if _, err := s.Append(ctx, Record{
			SessionID: "conv1", Turn: i, Input: "in", Output: "out", Steps: i,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Append(ctx, Record{SessionID: "conv2", Turn: 1, Input: "x", Output: "y"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.List(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, r := range got {
		if r.Turn != i+1 || r.ID == "" || r.CreatedAt.IsZero() {
			t.Fatalf("record[%d] = %+v", i, r)
		}
	}
}

func TestNextTurn(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	n, err := s.NextTurn(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("first turn = %d, want 1", n)
	}
	if _, err := s.Append(ctx, Record{SessionID: "conv1", Turn: n, Input: "a", Output: "b"}); err != nil {
		t.Fatal(err)
	}
	n, err = s.NextTurn(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("next turn = %d, want 2", n)
	}
}

func TestOpenRejectsBadDSN(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("empty DSN accepted")
	}
	if _, err := Open(context.Background(), "mysql://nope"); err == nil {
		t.Fatal("unsupported scheme accepted")
	}
}
