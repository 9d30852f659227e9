package upload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetdock/fleetdock/internal/config"
	"github.com/fleetdock/fleetdock/internal/models"
	"github.com/fleetdock/fleetdock/internal/storage"
)

func writeTempArtifact(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.zip")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp artifact: %v", err)
	}
	return path
}

func TestUploadLocalWhenNotConfigured(t *testing.T) {
	u := New(config.UploadConfig{})
	path := writeTempArtifact(t, "zipdata")

	result, err := u.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.Destination != models.DestinationLocal {
		t.Errorf("Destination = %v, want local", result.Destination)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("expected artifact to remain on disk, stat err = %v", statErr)
	}
}

func TestUploadTelegramSuccessDeletesLocalFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u := New(config.UploadConfig{TelegramToken: "tok", ChatID: "123", TelegramAPIRoot: server.URL})
	path := writeTempArtifact(t, "zipdata")

	result, err := u.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.Destination != models.DestinationTelegram {
		t.Errorf("Destination = %v, want telegram", result.Destination)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("expected local file deleted after successful upload, stat err = %v", statErr)
	}
}

func TestUploadTelegramFailureKeepsLocalFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	u := New(config.UploadConfig{TelegramToken: "tok", ChatID: "123", TelegramAPIRoot: server.URL})
	path := writeTempArtifact(t, "zipdata")

	result, err := u.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.Destination != models.DestinationLocal {
		t.Errorf("Destination = %v, want local on failure", result.Destination)
	}
	if result.Message == "" {
		t.Error("expected failure message to be recorded")
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("expected local file kept after failed upload, stat err = %v", statErr)
	}
}

func TestUploadArchivesToLocalStoreWhenTelegramUnset(t *testing.T) {
	backend, err := storage.NewLocalStorage(&storage.LocalConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	repo, err := storage.NewRepository(backend, &storage.Config{Type: "local"})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	u := New(config.UploadConfig{}).WithArchiveStore(repo, "local")
	path := writeTempArtifact(t, "zipdata")

	result, err := u.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.Destination != models.DestinationLocal {
		t.Errorf("Destination = %v, want local", result.Destination)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("expected local temp file removed once archived, stat err = %v", statErr)
	}

	ctx := context.Background()
	name := archiveTargetName(filepathBaseNoExt(path))
	hist, err := repo.GetContainerHistory(ctx, name)
	if err != nil {
		t.Fatalf("GetContainerHistory(%q): %v", name, err)
	}
	if len(hist.Backups) != 1 {
		t.Errorf("expected one archived backup for %q, got %d", name, len(hist.Backups))
	}
}

func TestUploadArchivesToCloudDestinationOnTelegramFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	backend, err := storage.NewLocalStorage(&storage.LocalConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	repo, err := storage.NewRepository(backend, &storage.Config{Type: "local"})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	u := New(config.UploadConfig{TelegramToken: "tok", ChatID: "123", TelegramAPIRoot: server.URL}).
		WithArchiveStore(repo, "s3")
	path := writeTempArtifact(t, "zipdata")

	result, err := u.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.Destination != models.DestinationCloud {
		t.Errorf("Destination = %v, want cloud", result.Destination)
	}
	if result.Message == "" {
		t.Error("expected the telegram failure message to still be recorded")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("expected local temp file removed once archived, stat err = %v", statErr)
	}

	ctx := context.Background()
	name := archiveTargetName(filepathBaseNoExt(path))
	hist, err := repo.GetContainerHistory(ctx, name)
	if err != nil {
		t.Fatalf("GetContainerHistory(%q): %v", name, err)
	}
	if len(hist.Backups) != 1 {
		t.Errorf("expected one archived backup for %q, got %d", name, len(hist.Backups))
	}
}

func filepathBaseNoExt(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
