package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

const timestampField = "timestamp"

var ErrInvalidRecord = errors.New("invalid record")

// Record is one telemetry sample. Timestamp is in Unix seconds and zero means
// "not set yet". Field values are json.Number or string.
type Record struct {
	Timestamp int64
	Fields    map[string]any
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[timestampField] = r.Timestamp
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if raw == nil {
		return fmt.Errorf("%w: expected a JSON object", ErrInvalidRecord)
	}

	rec := Record{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		if k == timestampField {
			ts, err := parseTimestamp(v)
			if err != nil {
				return err
			}
			rec.Timestamp = ts
			continue
		}
		rec.Fields[k] = v
	}
	if err := rec.normalize(); err != nil {
		return err
	}
	*r = rec
	return nil
}

// ParseRecord reads one record from a request body. An empty body is an
// empty record.
func ParseRecord(body io.Reader) (Record, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Record{Fields: map[string]any{}}, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		if errors.Is(err, ErrInvalidRecord) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return rec, nil
}

// parseTimestamp accepts whole or fractional Unix seconds and RFC 3339
// strings. A timestamp that is present must land after the epoch, since zero
// is reserved for "assign the server time".
func parseTimestamp(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}

	var seconds int64
	switch ts := v.(type) {
	case json.Number:
		if n, err := ts.Int64(); err == nil {
			seconds = n
		} else if f, err := ts.Float64(); err == nil && f >= 1 && f < math.MaxInt64 {
			seconds = int64(f)
		}
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			seconds = t.Unix()
		}
	}
	if seconds < 1 {
		return 0, fmt.Errorf("%w: timestamp must be positive Unix seconds or an RFC 3339 time after 1970-01-01T00:00:00Z", ErrInvalidRecord)
	}
	return seconds, nil
}

// normalize converts Go numeric values to json.Number and rejects anything
// that is neither a number nor a string.
func (r *Record) normalize() error {
	if r.Timestamp < 0 {
		return fmt.Errorf("%w: negative timestamp", ErrInvalidRecord)
	}
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	for k, v := range r.Fields {
		if k == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidRecord)
		}
		if k == timestampField {
			return fmt.Errorf("%w: %q is reserved", ErrInvalidRecord, k)
		}
		switch n := v.(type) {
		case json.Number, string:
		case float64:
			r.Fields[k] = json.Number(strconv.FormatFloat(n, 'f', -1, 64))
		case int:
			r.Fields[k] = json.Number(strconv.Itoa(n))
		case int64:
			r.Fields[k] = json.Number(strconv.FormatInt(n, 10))
		default:
			return fmt.Errorf("%w: field %q must be a number or a string", ErrInvalidRecord, k)
		}
	}
	return nil
}

func (r Record) clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{Timestamp: r.Timestamp, Fields: fields}
}
