package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File stores one JSON document per instance and per record under a root directory.
type File struct {
	root string

	// writeTemp writes payload to a new temporary file in dir and returns its path.
	writeTemp func(dir, pattern string, payload []byte) (string, error)
}

func NewFile(root string) (*File, error) {
	if root == "" {
		root = "./data"
	}
	for _, dir := range []string{"instances", "records"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0750); err != nil {
			return nil, wrap("open", root, fmt.Errorf("failed to create %s directory: %w", dir, err))
		}
	}
	return &File{root: root, writeTemp: writeSynced}, nil
}

// writeSynced writes payload to a fresh 0600 temporary file and fsyncs it. The file is
// removed again on any error.
func writeSynced(dir, pattern string, payload []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	name := tmp.Name()

	err = tmp.Chmod(0600)
	if err == nil {
		_, err = tmp.Write(payload)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

func (f *File) instancePath(id string) string {
	return filepath.Join(f.root, "instances", id+".json")
}

// recordPath maps a record key onto a file name; ':' is not portable in file names.
func (f *File) recordPath(key string) string {
	return filepath.Join(f.root, "records", strings.ReplaceAll(key, ":", "_")+".json")
}

// SaveInstance writes through a temporary file and renames it, so a crash never leaves a
// torn checkpoint.
func (f *File) SaveInstance(_ context.Context, rec InstanceRecord) error {
	const op = "save instance"
	if err := validateKey(rec.ID); err != nil {
		return wrap(op, rec.ID, err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return wrap(op, rec.ID, fmt.Errorf("failed to marshal instance: %w", err))
	}

	path := f.instancePath(rec.ID)
	tmp, err := f.writeTemp(filepath.Dir(path), rec.ID+".*.tmp", data)
	if err != nil {
		return wrap(op, rec.ID, err)
	}
	defer os.Remove(tmp)

	return wrap(op, rec.ID, os.Rename(tmp, path))
}

func (f *File) GetInstance(_ context.Context, id string) (InstanceRecord, error) {
	const op = "get instance"
	if err := validateKey(id); err != nil {
		return InstanceRecord{}, wrap(op, id, err)
	}

	data, err := os.ReadFile(f.instancePath(id)) // #nosec G304 -- id is validated above
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return InstanceRecord{}, wrap(op, id, ErrNotFound)
		}
		return InstanceRecord{}, wrap(op, id, err)
	}

	var rec InstanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return InstanceRecord{}, wrap(op, id, fmt.Errorf("failed to unmarshal instance: %w", err))
	}
	return rec, nil
}

func (f *File) ListActive(ctx context.Context) ([]InstanceRecord, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, "instances"))
	if err != nil {
		return nil, wrap("list active", "", err)
	}

	var out []InstanceRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := f.GetInstance(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if rec.Active {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutRecord writes the payload to a synced temporary file and hard-links it into place. The
// link fails when the key exists, so racing writers create it once and a reader never sees
// a partial record.
func (f *File) PutRecord(_ context.Context, key string, payload []byte) (bool, error) {
	const op = "put record"
	if err := validateKey(key); err != nil {
		return false, wrap(op, key, err)
	}

	path := f.recordPath(key)
	tmp, err := f.writeTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp", payload)
	if err != nil {
		return false, wrap(op, key, err)
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, wrap(op, key, err)
	}
	return true, nil
}

func (f *File) GetRecord(_ context.Context, key string) ([]byte, error) {
	const op = "get record"
	if err := validateKey(key); err != nil {
		return nil, wrap(op, key, err)
	}

	data, err := os.ReadFile(f.recordPath(key)) // #nosec G304 -- key is validated above
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, wrap(op, key, ErrNotFound)
		}
		return nil, wrap(op, key, err)
	}
	return data, nil
}

func (f *File) Close() error {
	return nil
}
