// Package store persists graph state between invocations, keyed by a
// session identifier.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when a session has no checkpoint.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by any operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Snapshot is the persisted form of a graph state: one JSON document per
// field. The graph schema turns it back into typed values.
type Snapshot map[string]json.RawMessage

// Clone returns a deep copy so callers can't mutate stored bytes.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Store holds the last known state of each session.
//
// Concurrent Saves for one session are last-write-wins; serializing a
// conversation is the caller's job. The engine never calls Delete.
type Store interface {
	// Load returns the checkpoint for sessionID, or ErrNotFound.
	Load(ctx context.Context, sessionID string) (Snapshot, error)

	// Save replaces the checkpoint for sessionID.
	Save(ctx context.Context, sessionID string, snap Snapshot) error

	// Delete removes the checkpoint. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Close releases resources. Further calls return ErrClosed.
	Close() error
}

// marshalSnapshot serializes snap with codec and returns the payload with
// the encoding name to store alongside it.
func marshalSnapshot(codec Codec, snap Snapshot) ([]byte, string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, "", fmt.Errorf("marshal snapshot: %w", err)
	}
	payload, err := codec.Encode(data)
	if err != nil {
		return nil, "", fmt.Errorf("encode snapshot (%s): %w", codec.Name(), err)
	}
	return payload, codec.Name(), nil
}

// unmarshalSnapshot reverses marshalSnapshot using the codec recorded for
// the row, so rows written with different codecs can be read side by side.
func unmarshalSnapshot(encoding string, payload []byte) (Snapshot, error) {
	codec, err := codecByName(encoding)
	if err != nil {
		return nil, err
	}
	data, err := codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot (%s): %w", encoding, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
