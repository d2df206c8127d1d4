package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File keeps the whole mapping as one JSON document. Saves go through a
// temporary file in the same directory followed by a rename, so a crash
// mid-write leaves the previous document in place.
type File struct {
	path string
}

func NewFile(dir, name string) (*File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, storageErr("creating data dir", err)
	}
	return &File{path: filepath.Join(dir, name)}, nil
}

func (f *File) Path() string { return f.path }

func (f *File) Load(_ context.Context) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, storageErr("reading "+f.path, err)
	}

	out := map[string]json.RawMessage{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, storageErr("parsing "+f.path, err)
	}
	return out, nil
}

func (f *File) Save(_ context.Context, data map[string]json.RawMessage) error {
	if data == nil {
		data = map[string]json.RawMessage{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return storageErr("encoding", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return storageErr("creating temp file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return storageErr("writing temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return storageErr("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return storageErr("closing temp file", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return storageErr("replacing "+f.path, err)
	}
	committed = true

	if err := syncDir(dir); err != nil {
		return storageErr("syncing data dir", err)
	}
	return nil
}

func (f *File) Close() error { return nil }

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsync %s: %w", dir, err)
	}
	return nil
}
