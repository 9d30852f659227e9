package artifact

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"
)

// RootKind distinguishes which of the two mutually exclusive root
// entries an archive carries (spec.md §8 invariant: exactly one of the
// two exists at the root).
type RootKind int

const (
	RootUnknown RootKind = iota
	RootSingleContainer
	RootUnifiedStack
	RootLegacyNestedZip
)

// Reader opens a finalized archive for restore-side consumption.
type Reader struct {
	zr *zip.ReadCloser
}

// Open opens path for reading.
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact %q: %w", path, err)
	}
	return &Reader{zr: zr}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.zr.Close()
}

// DetectRoot classifies the archive per the §8 root invariant. A
// legacy nested-zip archive is routed on root entry names, not on the
// deprecated ".zip suffix" heuristic (spec.md §9 open question): if no
// root config.json/stack_metadata.json exists but a root-level *.zip
// member does, it is legacy.
func (r *Reader) DetectRoot() RootKind {
	hasConfig := r.Has("config.json")
	hasStackMeta := r.Has("stack_metadata.json")
	switch {
	case hasConfig:
		return RootSingleContainer
	case hasStackMeta:
		return RootUnifiedStack
	}
	for _, f := range r.zr.File {
		if !strings.Contains(f.Name, "/") && strings.HasSuffix(f.Name, ".zip") {
			return RootLegacyNestedZip
		}
	}
	return RootUnknown
}

// Has reports whether name exists verbatim in the archive.
func (r *Reader) Has(name string) bool {
	for _, f := range r.zr.File {
		if f.Name == name {
			return true
		}
	}
	return false
}

// ReadAll returns the full contents of name.
func (r *Reader) ReadAll(name string) ([]byte, error) {
	f, err := r.open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read entry %q: %w", name, err)
	}
	return data, nil
}

// OpenEntry returns a reader over name for streaming consumers (tar
// injection into a container).
func (r *Reader) OpenEntry(name string) (io.ReadCloser, error) {
	return r.open(name)
}

func (r *Reader) open(name string) (io.ReadCloser, error) {
	for _, f := range r.zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open entry %q: %w", name, err)
			}
			return rc, nil
		}
	}
	return nil, fmt.Errorf("entry %q not found", name)
}

// EntriesUnder lists every entry whose name starts with prefix.
func (r *Reader) EntriesUnder(prefix string) []string {
	var names []string
	for _, f := range r.zr.File {
		if strings.HasPrefix(f.Name, prefix) {
			names = append(names, f.Name)
		}
	}
	return names
}

// RootZipEntries returns the names of root-level *.zip members, used
// by legacy nested-zip recursion (spec.md §4.7 step 1).
func (r *Reader) RootZipEntries() []string {
	var names []string
	for _, f := range r.zr.File {
		if !strings.Contains(f.Name, "/") && strings.HasSuffix(f.Name, ".zip") {
			names = append(names, f.Name)
		}
	}
	return names
}

// RootTarEntries returns the names of root-level *.tar members, the
// volume-strategy entries a clone restore streams back in (spec.md
// §4.7 step 9).
func (r *Reader) RootTarEntries() []string {
	var names []string
	for _, f := range r.zr.File {
		if !strings.Contains(f.Name, "/") && strings.HasSuffix(f.Name, ".tar") {
			names = append(names, f.Name)
		}
	}
	return names
}
