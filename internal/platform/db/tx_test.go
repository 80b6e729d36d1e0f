package db

import (
	"context"
	"testing"
)

func TestWithTxRequiresConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil {
		t.Fatal("expected error without a connection on the context")
	}
	if err.Error() != "no database connection in context" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInTxRunsDirectlyWithoutConnection(t *testing.T) {
	called := false
	err := InTx(context.Background(), func(ctx context.Context) error {
		called = true
		if TxFromContext(ctx) != nil {
			t.Error("no transaction should be present")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("fn must run")
	}
}

func TestTxFromContextEmpty(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Fatal("empty context must carry no transaction")
	}
}
