// Package upload implements Uploader (spec.md §4.11): POST a finalized
// artifact to Telegram's sendDocument endpoint, falling back to the
// ArtifactStore's configured backend (internal/storage) rather than a
// bare os.Rename, and to plain local disk when no backend is
// configured at all. No Telegram SDK appears anywhere in the retrieval
// pack, so the Telegram leg is built directly on
// net/http/mime/multipart (DESIGN.md's stdlib justification for this
// component).
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fleetdock/fleetdock/internal/config"
	"github.com/fleetdock/fleetdock/internal/errkind"
	"github.com/fleetdock/fleetdock/internal/models"
	"github.com/fleetdock/fleetdock/internal/storage"
)

// Result describes where an artifact ended up after Upload.
type Result struct {
	Destination models.HistoryDestination
	Message     string
	SizeBytes   int64
}

// Uploader posts artifacts to Telegram when configured, otherwise
// archives them through an ArtifactStore backend, otherwise leaves
// them on local disk untouched.
type Uploader struct {
	cfg         config.UploadConfig
	client      *http.Client
	archive     storage.RepositoryBackend
	archiveType string
}

// New constructs an Uploader from cfg with no ArtifactStore backend
// configured; Upload falls back to leaving artifacts on local disk.
func New(cfg config.UploadConfig) *Uploader {
	return &Uploader{cfg: cfg, client: &http.Client{}}
}

// WithArchiveStore attaches an ArtifactStore repository (A3) that
// Upload falls back to instead of leaving the artifact where
// ArtifactWriter wrote it. storageType is the backend's config.Type
// ("local", "s3" or "gcs"), used to pick the recorded
// HistoryDestination. The repository is the same one the CLI's
// `snapshots` commands read from, so archives produced here show up
// there too.
func (u *Uploader) WithArchiveStore(repo storage.RepositoryBackend, storageType string) *Uploader {
	u.archive = repo
	u.archiveType = storageType
	return u
}

// Upload sends artifactPath to the configured destination (spec.md
// §4.11): Telegram if enabled, deleting the local file on success;
// otherwise, or on Telegram failure, the ArtifactStore backend when
// one is configured (destination recorded as cloud for s3/gcs
// backends, local for the local backend); with neither configured the
// file is simply left where it is, destination local.
func (u *Uploader) Upload(ctx context.Context, artifactPath string) (Result, error) {
	info, err := os.Stat(artifactPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: stat artifact %q: %v", errkind.ErrUploadFailed, artifactPath, err)
	}
	size := info.Size()

	if !u.cfg.Enabled() {
		return u.archiveOrLeave(ctx, artifactPath, size, "")
	}

	if err := u.sendDocument(ctx, artifactPath); err != nil {
		return u.archiveOrLeave(ctx, artifactPath, size, err.Error())
	}

	if err := os.Remove(artifactPath); err != nil {
		return Result{Destination: models.DestinationTelegram, SizeBytes: size, Message: fmt.Sprintf("uploaded but failed to delete local copy: %v", err)}, nil
	}
	return Result{Destination: models.DestinationTelegram, SizeBytes: size}, nil
}

// archiveOrLeave is the "otherwise" path of Upload's spec.md §4.11
// resolution: push artifactPath into the ArtifactStore backend when
// one is configured, falling back to leaving the file in place on any
// error so the artifact is never silently lost.
func (u *Uploader) archiveOrLeave(ctx context.Context, artifactPath string, size int64, priorMessage string) (Result, error) {
	if u.archive == nil {
		return Result{Destination: models.DestinationLocal, SizeBytes: size, Message: priorMessage}, nil
	}

	f, err := os.Open(artifactPath) // #nosec G304 - controlled artifact path produced by ArtifactWriter
	if err != nil {
		return Result{Destination: models.DestinationLocal, SizeBytes: size, Message: joinMessages(priorMessage, fmt.Sprintf("open artifact for archiving: %v", err))}, nil
	}
	defer f.Close()

	id := strings.TrimSuffix(filepath.Base(artifactPath), filepath.Ext(artifactPath))
	err = u.archive.StoreBackup(ctx, &storage.Backup{
		ID: id,
		Metadata: storage.BackupMetadata{
			ID:        id,
			Name:      archiveTargetName(id),
			Type:      "archive",
			Size:      size,
			CreatedAt: time.Now(),
		},
		DataReader: f,
	}, nil, "")
	if err != nil {
		return Result{Destination: models.DestinationLocal, SizeBytes: size, Message: joinMessages(priorMessage, fmt.Sprintf("archive to artifact store: %v", err))}, nil
	}

	destination := models.DestinationLocal
	if u.archiveType == "s3" || u.archiveType == "gcs" {
		destination = models.DestinationCloud
	}

	if err := os.Remove(artifactPath); err != nil {
		return Result{Destination: destination, SizeBytes: size, Message: joinMessages(priorMessage, fmt.Sprintf("archived but failed to delete local copy: %v", err))}, nil
	}
	return Result{Destination: destination, SizeBytes: size, Message: priorMessage}, nil
}

// archiveTargetName recovers the container or stack name a backupengine
// artifact id was generated from ("<name>_<unixtimestamp>"), so the
// repository groups successive backups of the same target under one
// version history instead of a new entry per archive id.
func archiveTargetName(id string) string {
	idx := strings.LastIndex(id, "_")
	if idx < 0 {
		return id
	}
	suffix := id[idx+1:]
	if suffix == "" {
		return id
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return id
		}
	}
	return id[:idx]
}

func joinMessages(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

func (u *Uploader) sendDocument(ctx context.Context, artifactPath string) error {
	f, err := os.Open(artifactPath) // #nosec G304 - controlled artifact path produced by ArtifactWriter
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("chat_id", u.cfg.ChatID); err != nil {
		return fmt.Errorf("write chat_id field: %w", err)
	}
	part, err := writer.CreateFormFile("document", filepath.Base(artifactPath))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy artifact into request body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendDocument", u.cfg.TelegramAPIRoot, u.cfg.TelegramToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: telegram returned %d: %s", errkind.ErrUploadFailed, resp.StatusCode, respBody)
	}
	return nil
}
