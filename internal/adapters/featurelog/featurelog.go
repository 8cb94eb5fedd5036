// Package featurelog reads and writes per-frame feature vectors as YAML.
//
//	features: [motion2, adm2]
//	frames:
//	  - [0.1, 0.98]
//	  - [0.3, 0.97]
package featurelog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"go.yaml.in/yaml/v3"
)

// MaxFeatures bounds the columns of one log.
const MaxFeatures = 32

// Log is a table of feature values, one row per frame.
type Log struct {
	Features []string    `yaml:"features"`
	Frames   [][]float64 `yaml:"frames"`
}

// Read decodes and validates a log.
func Read(r io.Reader) (*Log, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var l Log
	if err := dec.Decode(&l); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidLog)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidLog, err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Open reads the log at path.
func Open(path string) (*Log, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature log: %w", err)
	}
	l, err := Read(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Write encodes l as YAML.
func Write(w io.Writer, l *Log) error {
	if err := l.Validate(); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(l); err != nil {
		return fmt.Errorf("encode feature log: %w", err)
	}
	return enc.Close()
}

// Validate checks that names are unique and every row has one value per name.
func (l *Log) Validate() error {
	if len(l.Features) == 0 {
		return fmt.Errorf("%w: no features", ErrInvalidLog)
	}
	if len(l.Features) > MaxFeatures {
		return fmt.Errorf("%w: %d features exceed %d", ErrInvalidLog, len(l.Features), MaxFeatures)
	}
	seen := make(map[string]struct{}, len(l.Features))
	for _, name := range l.Features {
		if name == "" {
			return fmt.Errorf("%w: empty feature name", ErrInvalidLog)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate feature %q", ErrInvalidLog, name)
		}
		seen[name] = struct{}{}
	}
	for i, row := range l.Frames {
		if len(row) != len(l.Features) {
			return fmt.Errorf("%w: frame %d has %d values, want %d", ErrInvalidLog, i, len(row), len(l.Features))
		}
	}
	return nil
}

// Vectors returns every frame's values reordered to names. Columns not in
// names are dropped.
func (l *Log) Vectors(names []string) ([][]float64, error) {
	cols := make([]int, len(names))
	for i, name := range names {
		c := slices.Index(l.Features, name)
		if c < 0 {
			return nil, fmt.Errorf("%w: %q", ErrMissingFeature, name)
		}
		cols[i] = c
	}
	out := make([][]float64, len(l.Frames))
	for k, row := range l.Frames {
		v := make([]float64, len(cols))
		for i, c := range cols {
			v[i] = row[c]
		}
		out[k] = v
	}
	return out, nil
}

// Require reports the first of names the log lacks.
func (l *Log) Require(names ...string) error {
	for _, name := range names {
		if !slices.Contains(l.Features, name) {
			return fmt.Errorf("%w: %q", ErrMissingFeature, name)
		}
	}
	return nil
}
