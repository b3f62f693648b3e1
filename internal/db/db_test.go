package db

import (
	"context"
	"errors"
	"testing"

	"agrocycle/internal/config"
	"agrocycle/internal/models"
)

func TestOpenWithoutDSN(t *testing.T) {
	if _, err := Open(config.DBConfig{DSN: "  "}, nil); !errors.Is(err, ErrNoDSN) {
		t.Fatalf("err=%v want ErrNoDSN", err)
	}
}

func TestNilHandlesAreNoops(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := SetTimezone(nil, "UTC"); err != nil {
		t.Fatalf("timezone: %v", err)
	}
	if err := AutoMigrate(context.Background(), nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

type tabler interface{ TableName() string }

func TestModelsHaveDistinctTables(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range Models() {
		tm, ok := m.(tabler)
		if !ok {
			t.Fatalf("%T has no TableName", m)
		}
		if seen[tm.TableName()] {
			t.Fatalf("duplicate table %q", tm.TableName())
		}
		seen[tm.TableName()] = true
	}
	if !seen[(models.SystemSetting{}).TableName()] {
		t.Fatalf("system_settings not migrated")
	}
}
