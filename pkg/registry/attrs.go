package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AttrsFileName is the per-instance attributes file. Its presence with the
// completion marker distinguishes a finished installation from a
// half-finished manual copy.
const AttrsFileName = ".nodeboi.conf"

// MarkerKey is the completion marker inside the attributes file.
const MarkerKey = "NODEBOI_MANAGED"

// Attrs is an order-preserving key=value record. It is read and written
// wholesale; nothing ever patches a single line in place.
type Attrs struct {
	keys   []string
	values map[string]string
}

// NewAttrs returns an empty record.
func NewAttrs() *Attrs {
	return &Attrs{values: make(map[string]string)}
}

// Get returns the value for key and whether it is present.
func (a *Attrs) Get(key string) (string, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Set stores key=value, preserving first-set ordering.
func (a *Attrs) Set(key, value string) {
	if _, exists := a.values[key]; !exists {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

// Delete removes key if present.
func (a *Attrs) Delete(key string) {
	if _, exists := a.values[key]; !exists {
		return
	}
	delete(a.values, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in file order.
func (a *Attrs) Keys() []string {
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}

// KeysWithPrefix returns the keys sharing a prefix, sorted for determinism.
func (a *Attrs) KeysWithPrefix(prefix string) []string {
	var out []string
	for _, k := range a.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// ParseAttrs decodes key=value lines. Blank lines and #-comments are
// tolerated on read; Encode never emits them.
func ParseAttrs(data []byte) (*Attrs, error) {
	a := NewAttrs()
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: not a key=value pair: %q", lineNo, line)
		}
		a.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return a, nil
}

// Encode serializes the record in key order.
func (a *Attrs) Encode() []byte {
	var b strings.Builder
	for _, k := range a.keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(a.values[k])
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// LoadAttrs reads and parses an attributes file.
func LoadAttrs(path string) (*Attrs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a, err := ParseAttrs(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return a, nil
}

// WriteFile serializes the record to path via a temp file and rename, so a
// reader never observes a torn attributes file.
func (a *Attrs) WriteFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".attrs-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(a.Encode()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
