package mqtt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestLoadOrCreateInstanceID_CreatesAndPersists(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("instance ID %q is not a valid UUID: %v", id, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("instance_id file not written: %v", err)
	}
	if got := string(data); got != id+"\n" {
		t.Errorf("file contents = %q, want %q", got, id+"\n")
	}
}

func TestLoadOrCreateInstanceID_Stable(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("instance ID changed across calls: %q != %q", first, second)
	}
}

func TestLoadOrCreateInstanceID_RegeneratesOnEmptyFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "instance_id"), []byte("  \n"), 0644)

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("instance ID %q is not a valid UUID: %v", id, err)
	}
}
