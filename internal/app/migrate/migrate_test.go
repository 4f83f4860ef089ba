package migrate

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsAreOrderedAndReversible(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), migrationsDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one migration")
	}
	for _, entry := range entries {
		raw, err := fs.ReadFile(Migrations(), migrationsDir+"/"+entry.Name())
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		body := string(raw)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s must declare up and down sections", entry.Name())
		}
	}
}

func TestInitialSchemaCoversWorkflowTables(t *testing.T) {
	raw, err := fs.ReadFile(Migrations(), migrationsDir+"/00001_init.sql")
	if err != nil {
		t.Fatalf("read initial migration: %v", err)
	}
	for _, table := range []string{"CREATE TABLE users", "CREATE TABLE teams", "CREATE TABLE boms"} {
		if !strings.Contains(string(raw), table) {
			t.Fatalf("initial migration missing %q", table)
		}
	}
	if !strings.Contains(string(raw), "version                 INTEGER") {
		t.Fatal("boms must carry a version column")
	}
	if !strings.Contains(string(raw), "first_login   BOOLEAN NOT NULL DEFAULT FALSE") {
		t.Fatal("users must carry a first_login flag")
	}
}
