//go:build integration

package transcript

import (
	"context"
	"testing"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestPostgresTranscriptFlow(t *testing.T) {
	ctx := context.Background()
	pg, err := tcpostgres.RunContainer(ctx,
		tcpostgres.WithDatabase("protean"),
		tcpostgres.WithUsername("protean"),
		tcpostgres.WithPassword("protean"),
		tcpostgres.WithSQLDriver("pgx"),
	)
	if err != nil {
		t.Skipf("skip: cannot start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	st, err := Open(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	for i := 1; i <= 2; i++ {
		if _, err := st.Append(ctx, Record{
			SessionID: "runpg", Turn: i, Input: "in", Output: "out",
		}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := st.List(ctx, "runpg")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Turn != 1 || got[1].Turn != 2 {
		t.Fatalf("got %+v", got)
	}
	n, err := st.NextTurn(ctx, "runpg")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("next turn = %d, want 3", n)
	}
}
