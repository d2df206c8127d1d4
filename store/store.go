package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrStorage marks every failure to read or write durable state.
var ErrStorage = errors.New("storage failure")

// Backend is a durable key/value mapping that is always rewritten in full.
// Save must either replace the previous contents entirely or leave them
// untouched.
type Backend interface {
	Load(ctx context.Context) (map[string]json.RawMessage, error)
	Save(ctx context.Context, data map[string]json.RawMessage) error
	Close() error
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Encode marshals every value of m.
func Encode[V any](m map[string]V) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("error encoding %q: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}

// Decode is the inverse of Encode.
func Decode[V any](raw map[string]json.RawMessage) (map[string]V, error) {
	out := make(map[string]V, len(raw))
	for k, r := range raw {
		var v V
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, storageErr(fmt.Sprintf("decoding %q", k), err)
		}
		out[k] = v
	}
	return out, nil
}

// Open returns the backend for one named bucket. The sqlite driver shares a
// single database handle, so callers pass the same *SQLiteDB to every bucket.
func Open(driver, dataDir string, db *SQLiteDB, bucket string) (Backend, error) {
	switch driver {
	case "file":
		return NewFile(dataDir, bucket+".json")
	case "sqlite":
		if db == nil {
			return nil, fmt.Errorf("sqlite driver selected without a database")
		}
		return db.Bucket(bucket), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
