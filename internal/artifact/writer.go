// Package artifact implements ArtifactWriter (spec.md §4.3): an
// append-only archive writer plus the restore-side reader and the
// path-escape codec (§6). Grounded in the teacher's
// createBackupZip/backupVolume zip.Writer usage in main.go, generalized
// from a single fixed layout to the config.json-first / stack_metadata.json-first
// invariant and arbitrary appended entries.
package artifact

import (
	"archive/zip"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Writer is a single-pass, append-only archive builder. The first entry
// appended must be config.json or stack_metadata.json; callers append
// that entry first, and Writer itself does not check it, it only
// serializes appends in call order.
type Writer struct {
	file    *os.File
	zip     *zip.Writer
	path    string
	started bool
	failed  bool
}

// New creates outputPath and opens it for append-only writing.
func New(outputPath string) (*Writer, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("create artifact %q: %w", outputPath, err)
	}
	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	return &Writer{file: f, zip: zw, path: outputPath}, nil
}

// AppendBytes writes a fixed-size entry at deflate level 9.
func (w *Writer) AppendBytes(name string, data []byte) error {
	entry, err := w.create(name)
	if err != nil {
		return err
	}
	if _, err := entry.Write(data); err != nil {
		w.failed = true
		return fmt.Errorf("write entry %q: %w", name, err)
	}
	return nil
}

// AppendStream copies reader into a new entry of the given name,
// streaming without buffering the whole payload in memory (tar capture
// of large volumes).
func (w *Writer) AppendStream(name string, r io.Reader) error {
	entry, err := w.create(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(entry, r); err != nil {
		w.failed = true
		return fmt.Errorf("stream entry %q: %w", name, err)
	}
	return nil
}

func (w *Writer) create(name string) (io.Writer, error) {
	w.started = true
	header := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()}
	entry, err := w.zip.CreateHeader(header)
	if err != nil {
		w.failed = true
		return nil, fmt.Errorf("create entry %q: %w", name, err)
	}
	return entry, nil
}

// Finalize closes the zip writer and backing file under a wall-clock
// timeout (300s per-container, 600s per-stack per spec.md §4.3). On any
// error the partially written output is deleted.
func (w *Writer) Finalize(ctx context.Context, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		if err := w.zip.Close(); err != nil {
			done <- err
			return
		}
		done <- w.file.Close()
	}()

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case err := <-done:
		if err != nil || w.failed {
			w.cleanup()
			if err == nil {
				err = fmt.Errorf("finalize %q: prior append error", w.path)
			}
			return fmt.Errorf("finalize artifact %q: %w", w.path, err)
		}
		return nil
	case <-deadline.Done():
		w.cleanup()
		return fmt.Errorf("finalize artifact %q: %w", w.path, deadline.Err())
	}
}

// Abort deletes the partially written output, used when the caller
// detects a fatal error before calling Finalize.
func (w *Writer) Abort() {
	_ = w.zip.Close()
	_ = w.file.Close()
	w.cleanup()
}

func (w *Writer) cleanup() {
	_ = os.Remove(w.path)
}

// EscapePath implements the §6 path-escape rule: /a/b/c -> a_b_c.tar.
func EscapePath(p string) string {
	trimmed := strings.TrimPrefix(p, "/")
	return strings.ReplaceAll(trimmed, "/", "_") + ".tar"
}

// EscapeErrorName produces the ERROR_<escaped>.txt entry name for a
// per-path capture failure.
func EscapeErrorName(p string) string {
	trimmed := strings.TrimPrefix(p, "/")
	return "ERROR_" + strings.ReplaceAll(trimmed, "/", "_") + ".txt"
}

// UnescapePath implements the decode half of the §6 rule: strip .tar,
// replace every _ with /, prepend /. Lossy for paths that legitimately
// contain underscores; documented as a known limitation, not changed
// unilaterally so old archives keep restoring.
func UnescapePath(entryName string) string {
	name := strings.TrimSuffix(entryName, ".tar")
	return "/" + strings.ReplaceAll(name, "_", "/")
}
