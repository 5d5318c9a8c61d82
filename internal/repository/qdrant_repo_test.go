package repository

import (
	"context"
	"testing"
	"time"
)

func TestCallCtxAppliesDeadline(t *testing.T) {
	repo, err := NewQdrantRepository(&QdrantConnectionConfig{
		Host:       "localhost",
		Port:       6334,
		Collection: "products",
		Timeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	defer repo.Close()

	ctx, cancel := repo.callCtx(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("call context has no deadline")
	}
	if remaining := time.Until(deadline); remaining > 2*time.Second {
		t.Errorf("deadline %v out past the configured timeout", remaining)
	}
}

func TestCallCtxDefaultTimeout(t *testing.T) {
	repo, err := NewQdrantRepository(&QdrantConnectionConfig{
		Host:       "localhost",
		Port:       6334,
		Collection: "products",
	})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	defer repo.Close()

	if repo.timeout != defaultCallTimeout {
		t.Errorf("got timeout %v, want %v", repo.timeout, defaultCallTimeout)
	}

	ctx, cancel := repo.callCtx(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Error("call context has no deadline")
	}
}
