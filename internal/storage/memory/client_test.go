package memory

import (
	"context"
	"testing"
	"time"
)

func TestTokenCache(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.SetToken(ctx, "tok", "u1", time.Minute); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	userID, err := c.GetToken(ctx, "tok")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if userID != "u1" {
		t.Errorf("userID = %q, want %q", userID, "u1")
	}

	if userID, _ := c.GetToken(ctx, "missing"); userID != "" {
		t.Errorf("missing token returned %q, want empty", userID)
	}

	if err := c.DeleteToken(ctx, "tok"); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if userID, _ := c.GetToken(ctx, "tok"); userID != "" {
		t.Errorf("deleted token returned %q, want empty", userID)
	}
}

func TestTokenCacheExpiry(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.SetToken(ctx, "tok", "u1", -time.Second); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if userID, _ := c.GetToken(ctx, "tok"); userID != "" {
		t.Errorf("expired token returned %q, want empty", userID)
	}
}
