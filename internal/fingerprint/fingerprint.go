// Package fingerprint derives the stage input digests that decide whether a
// stage may be skipped on rerun.
//
// A Builder folds labelled values in call order into a SHA256 digest. Callers
// add the upstream stage fingerprint first, so any upstream change cascades to
// every later stage without explicit bookkeeping.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"math"
	"sort"

	"dubforge/internal/fileutil"
)

// Builder accumulates labelled inputs.
type Builder struct {
	h   hash.Hash
	err error
}

// New starts a fingerprint for the named stage.
func New(stage string) *Builder {
	b := &Builder{h: sha256.New()}
	return b.String("stage", stage)
}

func (b *Builder) write(label string, value []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(label)))
	b.h.Write(n[:])
	b.h.Write([]byte(label))
	binary.BigEndian.PutUint64(n[:], uint64(len(value)))
	b.h.Write(n[:])
	b.h.Write(value)
}

// String adds a string input.
func (b *Builder) String(label, value string) *Builder {
	b.write(label, []byte(value))
	return b
}

// Int adds an integer input.
func (b *Builder) Int(label string, value int64) *Builder {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(value))
	b.write(label, buf[:])
	return b
}

// Float adds a float input by its exact bit pattern.
func (b *Builder) Float(label string, value float64) *Builder {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(value))
	b.write(label, buf[:])
	return b
}

// Bool adds a boolean input.
func (b *Builder) Bool(label string, value bool) *Builder {
	if value {
		return b.String(label, "true")
	}
	return b.String(label, "false")
}

// Map adds a string map in sorted key order.
func (b *Builder) Map(label string, values map[string]string) *Builder {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.Int(label+".len", int64(len(keys)))
	for _, k := range keys {
		b.String(label+"."+k, values[k])
	}
	return b
}

// JSON adds the canonical JSON encoding of v. Struct field order is fixed by
// the type, and map keys are sorted by encoding/json.
func (b *Builder) JSON(label string, v any) *Builder {
	data, err := json.Marshal(v)
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("fingerprint %s: %w", label, err)
	}
	b.write(label, data)
	return b
}

// File adds the content hash of a file.
func (b *Builder) File(label, path string) *Builder {
	sum, err := fileutil.HashFile(path)
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("fingerprint %s: %w", label, err)
	}
	return b.String(label, sum)
}

// Sum returns the hex digest or the first input error.
func (b *Builder) Sum() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return hex.EncodeToString(b.h.Sum(nil)), nil
}
