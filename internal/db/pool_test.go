package db

import (
	"fmt"
	"testing"

	"gorm.io/gorm/logger"
)

func TestCommandTagRowsAffected(t *testing.T) {
	t.Parallel()

	if got := (CommandTag{}).RowsAffected(); got != 0 {
		t.Fatalf("zero tag must report 0 rows, got %d", got)
	}
	if got := (CommandTag{rowsAffected: 3}).RowsAffected(); got != 3 {
		t.Fatalf("expected 3 rows, got %d", got)
	}
}

func TestIsNoRows(t *testing.T) {
	t.Parallel()

	if !IsNoRows(ErrNoRows) {
		t.Fatalf("ErrNoRows must satisfy IsNoRows")
	}
	if !IsNoRows(fmt.Errorf("query article: %w", ErrNoRows)) {
		t.Fatalf("wrapped ErrNoRows must satisfy IsNoRows")
	}
	if IsNoRows(fmt.Errorf("connection refused")) {
		t.Fatalf("unrelated errors must not satisfy IsNoRows")
	}
}

func TestResolveGormLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level       string
		environment string
		want        logger.LogLevel
	}{
		{"debug", "production", logger.Info},
		{"trace", "local", logger.Info},
		{"info", "production", logger.Warn},
		{"", "production", logger.Warn},
		{"error", "local", logger.Error},
		{"silent", "local", logger.Silent},
		{"bogus", "local", logger.Warn},
		{"bogus", "production", logger.Error},
	}
	for _, tc := range cases {
		if got := resolveGormLogLevel(tc.level, tc.environment); got != tc.want {
			t.Fatalf("resolveGormLogLevel(%q, %q) = %v, want %v", tc.level, tc.environment, got, tc.want)
		}
	}
}
