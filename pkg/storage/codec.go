package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// GetJSON decodes the value at key into v. found is false when the key is absent.
func GetJSON(r Reader, key []byte, v any) (found bool, err error) {
	data, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func PutJSON(w Writer, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return w.Set(key, data, nil)
}

func GetUint64(r Reader, key []byte) (uint64, bool, error) {
	data, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	if len(data) != 8 {
		return 0, false, fmt.Errorf("decode %s: want 8 bytes, got %d", key, len(data))
	}
	return binary.BigEndian.Uint64(data), true, nil
}

func PutUint64(w Writer, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return w.Set(key, buf[:], nil)
}

// ScanPrefix calls fn for every key under prefix in key order. The slices are
// only valid for the duration of the call.
func ScanPrefix(r Reader, prefix []byte, fn func(key, value []byte) error) error {
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("iterate %s: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// KeyUpperBound returns the exclusive upper bound for a prefix scan,
// e.g. "bal:0xab:" -> "bal:0xab;".
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
