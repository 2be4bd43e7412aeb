package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ocampo/fieldsync/internal/db"
)

// TestInitCreatesFieldsyncDirectory tests that init creates the .fieldsync directory
func TestInitCreatesFieldsyncDirectory(t *testing.T) {
	dir := t.TempDir()

	database, err := db.Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer database.Close()

	storePath := filepath.Join(dir, ".fieldsync")
	if info, err := os.Stat(storePath); err != nil || !info.IsDir() {
		t.Errorf("Expected .fieldsync directory to exist at %s", storePath)
	}

	dbPath := filepath.Join(storePath, "capture.db")
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("Expected capture.db to exist at %s", dbPath)
	}
}

// TestInitIdempotent tests that init can be called multiple times safely
func TestInitIdempotent(t *testing.T) {
	dir := t.TempDir()

	database1, err := db.Initialize(dir)
	if err != nil {
		t.Fatalf("First Initialize failed: %v", err)
	}
	database1.Close()

	database2, err := db.Initialize(dir)
	if err != nil {
		t.Fatalf("Second Initialize failed: %v", err)
	}
	database2.Close()
}
