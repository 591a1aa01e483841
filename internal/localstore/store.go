// Package localstore persists a client's Document (and its watermark
// map) to disk between replica controller runs, using an atomic
// write-temp-then-rename so a crash mid-write never corrupts the file
// a replica relies on (§4.4, §6 "Written atomically").
package localstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beepshq/beeps/internal/document"
	"github.com/beepshq/beeps/internal/hlc"
)

// Store is a handle on one client document file on disk.
type Store struct {
	path string
}

// New returns a Store for the document file at path. The file need
// not exist yet; Load returns a fresh empty Document in that case.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads and parses the persisted Document, transparently
// upgrading a legacy envelope if that is what is on disk (§4.2.3). If
// the file does not exist, Load returns a fresh empty Document for
// node rather than an error — this is the expected state on first run.
func (s *Store) Load(node hlc.NodeID, warner hlc.RegressionWarner) (*document.Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return document.New(node, warner), nil
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: reading %s: %w", s.path, err)
	}

	doc, err := document.Parse(data, node, warner)
	if err != nil {
		return nil, fmt.Errorf("localstore: parsing %s: %w", s.path, err)
	}
	return doc, nil
}

// Save atomically writes doc's canonical envelope to the document
// file: write to a temp file in the same directory, fsync, then
// rename over the target, so a reader never observes a partial write.
func (s *Store) Save(doc *document.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("localstore: encoding document: %w", err)
	}
	return atomicWrite(s.path, data)
}

// watermarkSuffix names the sidecar file tracking the per-node
// watermark map alongside the document file, so a restart does not
// have to re-pull the entire server log (§4.4 supplement).
const watermarkSuffix = ".watermarks.json"

type watermarkEntry struct {
	Wall    int64  `json:"wall"`
	Counter uint64 `json:"counter"`
}

// LoadWatermarks reads the sidecar watermark file, returning an empty
// map (not an error) if it does not exist yet.
func (s *Store) LoadWatermarks() (map[hlc.NodeID]hlc.Timestamp, error) {
	path := s.path + watermarkSuffix
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[hlc.NodeID]hlc.Timestamp{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: reading %s: %w", path, err)
	}

	var raw map[hlc.NodeID]watermarkEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("localstore: parsing %s: %w", path, err)
	}

	out := make(map[hlc.NodeID]hlc.Timestamp, len(raw))
	for node, entry := range raw {
		out[node] = hlc.Timestamp{Wall: entry.Wall, Counter: entry.Counter, Node: node}
	}
	return out, nil
}

// SaveWatermarks atomically persists the watermark map.
func (s *Store) SaveWatermarks(watermarks map[hlc.NodeID]hlc.Timestamp) error {
	raw := make(map[hlc.NodeID]watermarkEntry, len(watermarks))
	for node, ts := range watermarks {
		raw[node] = watermarkEntry{Wall: ts.Wall, Counter: ts.Counter}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("localstore: encoding watermarks: %w", err)
	}
	return atomicWrite(s.path+watermarkSuffix, data)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("localstore: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("localstore: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("localstore: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("localstore: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localstore: closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("localstore: renaming into place: %w", err)
	}
	return nil
}
