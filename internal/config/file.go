package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/rotisserie/eris"
)

// fileBackend stores config in a TOML file. Nested tables are flattened to
// dotted keys on read and rebuilt on write.
type fileBackend struct {
	mu   sync.Mutex
	path string
	data map[string]any
}

func openFileBackend(path string) (*fileBackend, error) {
	b := &fileBackend{path: path, data: map[string]any{}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "config: read %s", path)
	}
	var nested map[string]any
	if err := toml.Unmarshal(raw, &nested); err != nil {
		return nil, eris.Wrapf(err, "config: parse %s", path)
	}
	flattenMap("", nested, b.data)
	return b, nil
}

func flattenMap(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flattenMap(key, sub, out)
			continue
		}
		out[key] = v
	}
}

func unflattenMap(flat map[string]any) map[string]any {
	out := map[string]any{}
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts := strings.Split(k, ".")
		node := out
		for _, p := range parts[:len(parts)-1] {
			sub, ok := node[p].(map[string]any)
			if !ok {
				sub = map[string]any{}
				node[p] = sub
			}
			node = sub
		}
		node[parts[len(parts)-1]] = flat[k]
	}
	return out
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	switch t := v.(type) {
	case string:
		return t, true, nil
	case int64:
		return strconv.FormatInt(t, 10), true, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true, nil
	case bool:
		return strconv.FormatBool(t), true, nil
	default:
		return fmt.Sprint(t), true, nil
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	switch t := v.(type) {
	case int64:
		return int(t), true, nil
	case float64:
		if t != math.Trunc(t) {
			return 0, false, fmt.Errorf("%s: %v is not an integer", key, t)
		}
		return int(t), true, nil
	case string:
		i, err := strconv.Atoi(t)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, false, fmt.Errorf("%s: unexpected type %T", key, v)
	}
}

func (b *fileBackend) Set(key string, val any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = val
	return b.saveLocked()
}

func (b *fileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; !ok {
		return nil
	}
	delete(b.data, key)
	return b.saveLocked()
}

func (b *fileBackend) saveLocked() error {
	out, err := toml.Marshal(unflattenMap(b.data))
	if err != nil {
		return eris.Wrap(err, "config: encode")
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return eris.Wrapf(err, "config: create %s", filepath.Dir(b.path))
	}
	if err := os.WriteFile(b.path, out, 0o600); err != nil {
		return eris.Wrapf(err, "config: write %s", b.path)
	}
	return nil
}
