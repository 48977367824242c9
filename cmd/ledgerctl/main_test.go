package main

import (
	"context"
	"testing"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	configPath = ""
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestCommands_InMemory(t *testing.T) {
	for _, args := range [][]string{
		{"recompute"},
		{"prune", "--dry-run"},
		{"wallet", "bootstrap"},
		{"wallet", "list"},
	} {
		if err := run(t, args...); err != nil {
			t.Errorf("%v: %v", args, err)
		}
	}
}

func TestCommands_Errors(t *testing.T) {
	// Each invocation gets a fresh in-memory store, so nothing is seeded.
	if err := run(t, "wallet", "active"); err == nil {
		t.Error("expected error for empty wallet set")
	}
	if err := run(t, "recompute", "account", "missing"); err == nil {
		t.Error("expected error for unknown account")
	}
	if err := run(t, "wallet", "activate"); err == nil {
		t.Error("expected argument error")
	}
}
