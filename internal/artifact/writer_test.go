package artifact

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriterAppendAndFinalizeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.zip")

	w, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.AppendBytes("config.json", []byte(`{"name":"x"}`)); err != nil {
		t.Fatalf("AppendBytes: %v", err)
	}
	if err := w.AppendStream(EscapePath("/var/www"), bytes.NewReader([]byte("tardata"))); err != nil {
		t.Fatalf("AppendStream: %v", err)
	}
	if err := w.Finalize(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.DetectRoot() != RootSingleContainer {
		t.Errorf("DetectRoot = %v, want RootSingleContainer", r.DetectRoot())
	}
	data, err := r.ReadAll("config.json")
	if err != nil {
		t.Fatalf("ReadAll config.json: %v", err)
	}
	if string(data) != `{"name":"x"}` {
		t.Errorf("config.json content = %q", data)
	}
	if !r.Has("var_www.tar") {
		t.Error("expected escaped tar entry var_www.tar")
	}
}

func TestEscapePathRoundTrip(t *testing.T) {
	cases := map[string]string{
		"/var/www":               "var_www.tar",
		"/usr/share/nginx/html":  "usr_share_nginx_html.tar",
	}
	for path, want := range cases {
		if got := EscapePath(path); got != want {
			t.Errorf("EscapePath(%q) = %q, want %q", path, got, want)
		}
		if got := UnescapePath(want); got != path {
			t.Errorf("UnescapePath(%q) = %q, want %q", want, got, path)
		}
	}
}

func TestFinalizeDeletesPartialOutputOnFailedAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.zip")

	w, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.AppendBytes("config.json", []byte("{}")); err != nil {
		t.Fatalf("AppendBytes: %v", err)
	}
	w.failed = true

	if err := w.Finalize(context.Background(), 5*time.Second); err == nil {
		t.Fatal("expected Finalize to report the prior append failure")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected partial output to be deleted, stat err = %v", err)
	}
}
