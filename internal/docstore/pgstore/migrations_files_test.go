package pgstore

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

const migrationsDir = "../../../db/migrations"

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}
	for _, entry := range entries {
		match := pattern.FindStringSubmatch(entry.Name())
		if entry.IsDir() || match == nil {
			continue
		}
		if byVersion[match[1]] == nil {
			byVersion[match[1]] = map[string]bool{}
		}
		if byVersion[match[1]][match[2]] {
			t.Fatalf("duplicate %s migration file for version %s", match[2], match[1])
		}
		byVersion[match[1]][match[2]] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestDocumentsMigrationInstallsChangeTrigger(t *testing.T) {
	files, err := migrationFiles(migrationsDir, ".up.sql")
	if err != nil {
		t.Fatalf("migrationFiles() error = %v", err)
	}
	if len(files) == 0 || filepath.Base(files[0]) != "0001_documents.up.sql" {
		t.Fatalf("unexpected migration order: %v", files)
	}
	contents, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(contents)
	for _, want := range []string{"CREATE TABLE IF NOT EXISTS documents", "pg_notify('" + notifyChannel + "'", "CREATE TRIGGER documents_notify"} {
		if !strings.Contains(sql, want) {
			t.Fatalf("documents migration missing %q", want)
		}
	}
}
