// Package store mirrors session state (the file list, the selection and the theme flag)
// into a domain.KV. Reads happen once at session start, writes on every change.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dontdude/pystudio/internal/domain"
)

// Persisted keys. They are kept from the first release so existing stores keep loading.
const (
	FilesKey    = "python-studio-files-v1"
	ThemeKey    = "python-studio-theme"
	SelectedKey = "python-studio-selected"
)

const (
	themeDark  = "dark"
	themeLight = "light"
)

// Adapter reads and writes the persisted entries of one session.
type Adapter struct {
	kv        domain.KV
	namespace string
}

// New returns an Adapter. namespace is prepended to every key; it may be empty.
func New(kv domain.KV, namespace string) *Adapter {
	return &Adapter{kv: kv, namespace: namespace}
}

// Namespace returns the key prefix used for a session id.
func Namespace(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	return "studio:" + sessionID + ":"
}

func (a *Adapter) key(k string) string {
	return a.namespace + k
}

// LoadFiles returns the persisted file list.
// A missing, unreadable or empty entry yields the default seed instead of an error.
func (a *Adapter) LoadFiles(ctx context.Context) []domain.TextFile {
	raw, ok, err := a.kv.Get(ctx, a.key(FilesKey))
	if err != nil {
		slog.Warn("Failed to read persisted files, using defaults", "key", a.key(FilesKey), "error", err)
		return domain.DefaultFiles()
	}
	if !ok {
		return domain.DefaultFiles()
	}

	files, err := Decode(raw)
	if err != nil {
		slog.Warn("Persisted files are corrupt, using defaults", "key", a.key(FilesKey), "error", err)
		return domain.DefaultFiles()
	}
	if len(files) == 0 {
		return domain.DefaultFiles()
	}
	return files
}

// SaveFiles re-serialises the whole list.
func (a *Adapter) SaveFiles(ctx context.Context, files []domain.TextFile) error {
	raw, err := Encode(files)
	if err != nil {
		return err
	}
	if err := a.kv.Set(ctx, a.key(FilesKey), raw); err != nil {
		return fmt.Errorf("failed to persist files: %w", err)
	}
	return nil
}

// Exists reports whether a file list has been stored under this namespace.
func (a *Adapter) Exists(ctx context.Context) bool {
	_, ok, err := a.kv.Get(ctx, a.key(FilesKey))
	return err == nil && ok
}

// LoadSelected returns the stored selection, or 0 when none is stored.
// Callers clamp it to the loaded file list.
func (a *Adapter) LoadSelected(ctx context.Context) int {
	v, ok, err := a.kv.Get(ctx, a.key(SelectedKey))
	if err != nil || !ok {
		return 0
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0
	}
	return i
}

// SaveSelected stores the selected index.
func (a *Adapter) SaveSelected(ctx context.Context, index int) error {
	if err := a.kv.Set(ctx, a.key(SelectedKey), strconv.Itoa(index)); err != nil {
		return fmt.Errorf("failed to persist selection: %w", err)
	}
	return nil
}

// LoadTheme reports whether the dark theme is stored.
func (a *Adapter) LoadTheme(ctx context.Context) bool {
	v, ok, err := a.kv.Get(ctx, a.key(ThemeKey))
	if err != nil || !ok {
		return false
	}
	return v == themeDark
}

// SaveTheme stores the theme flag.
func (a *Adapter) SaveTheme(ctx context.Context, dark bool) error {
	v := themeLight
	if dark {
		v = themeDark
	}
	if err := a.kv.Set(ctx, a.key(ThemeKey), v); err != nil {
		return fmt.Errorf("failed to persist theme: %w", err)
	}
	return nil
}

// Encode serialises a file list as a JSON array of {name, content}.
func Encode(files []domain.TextFile) (string, error) {
	if files == nil {
		files = []domain.TextFile{}
	}
	data, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("failed to marshal files: %w", err)
	}
	return string(data), nil
}

// Decode parses the output of Encode.
func Decode(raw string) ([]domain.TextFile, error) {
	var files []domain.TextFile
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return nil, fmt.Errorf("failed to unmarshal files: %w", err)
	}
	return files, nil
}
