// Package files owns a session's ordered list of text files and the
// current selection.
package files

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/store"
)

const deletePrompt = "Delete this file?"

// Summary is what a file list shows for one entry.
type Summary struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Preview  string `json:"preview"`
	Lines    int    `json:"lines"`
	Selected bool   `json:"selected"`
}

// Manager holds the collection. The collection is never empty and
// 0 <= selected < len(files) always holds.
// Every mutation is written through to the store before the call returns.
type Manager struct {
	mu       sync.RWMutex
	files    []domain.TextFile
	selected int
	// generation counts writes, so Delete can tell whether the collection
	// moved while its prompt was open.
	generation uint64

	store   *store.Adapter
	confirm domain.Confirmer
}

// NewManager loads the persisted collection (or the default seed) and the
// persisted selection, clamped to the collection.
func NewManager(ctx context.Context, st *store.Adapter, confirm domain.Confirmer) *Manager {
	files := st.LoadFiles(ctx)
	selected := st.LoadSelected(ctx)
	if selected >= len(files) {
		selected = 0
	}
	return &Manager{
		files:    files,
		selected: selected,
		store:    st,
		confirm:  confirm,
	}
}

// Files returns a copy of the collection.
func (m *Manager) Files() []domain.TextFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TextFile, len(m.files))
	copy(out, m.files)
	return out
}

// Len returns the number of files.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// SelectedIndex returns the current selection.
func (m *Manager) SelectedIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selected
}

// Selected returns the selected file.
func (m *Manager) Selected() domain.TextFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files[m.selected]
}

// Get returns the file at index.
func (m *Manager) Get(index int) (domain.TextFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkIndex(index); err != nil {
		return domain.TextFile{}, err
	}
	return m.files[index], nil
}

// Summaries returns one Summary per file, in display order.
func (m *Manager) Summaries() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Summary, len(m.files))
	for i, f := range m.files {
		out[i] = Summary{
			Index:    i,
			Name:     f.Name,
			Preview:  FirstLine(f.Content),
			Lines:    LineCount(f.Content),
			Selected: i == m.selected,
		}
	}
	return out
}

// Create appends a new file with the template content and selects it.
// An empty name (a cancelled prompt) is a no-op and reports false.
func (m *Manager) Create(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	undo := m.checkpoint()
	m.files = append(m.files, domain.TextFile{Name: name, Content: domain.NewFileTemplate})
	m.selected = len(m.files) - 1
	if err := m.commit(ctx, undo); err != nil {
		return false, err
	}
	slog.Debug("File created", "name", name, "index", m.selected)
	return true, nil
}

// Update merges delta into the file at index.
func (m *Manager) Update(ctx context.Context, index int, delta domain.FileDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkIndex(index); err != nil {
		return err
	}

	undo := m.checkpoint()
	f := m.files[index]
	if delta.Name != nil && *delta.Name != "" {
		f.Name = *delta.Name
	}
	if delta.Content != nil {
		f.Content = *delta.Content
	}
	m.files[index] = f
	if err := m.commit(ctx, undo); err != nil {
		return err
	}
	return nil
}

// UpdateSelected merges delta into the selected file, like typing in the editor.
func (m *Manager) UpdateSelected(ctx context.Context, delta domain.FileDelta) error {
	return m.Update(ctx, m.SelectedIndex(), delta)
}

// Delete removes the file at index once the user confirms.
// Deleting the last file re-seeds the default set. The selection always
// goes back to 0.
// If the collection changed under index while the prompt was open, the
// delete is refused with ErrFileChanged.
func (m *Manager) Delete(ctx context.Context, index int) error {
	m.mu.RLock()
	err := m.checkIndex(index)
	var target domain.TextFile
	if err == nil {
		target = m.files[index]
	}
	gen := m.generation
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	// Ask outside the lock, the prompt may block on the user.
	if m.confirm != nil && !m.confirm.Confirm(ctx, deletePrompt) {
		return domain.ErrNotConfirmed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen && (m.checkIndex(index) != nil || m.files[index] != target) {
		return fmt.Errorf("%w: %s", domain.ErrFileChanged, target.Name)
	}

	undo := m.checkpoint()
	m.files = slices.Delete(m.files, index, index+1)
	if len(m.files) == 0 {
		m.files = domain.DefaultFiles()
	}
	m.selected = 0
	if err := m.commit(ctx, undo); err != nil {
		return err
	}
	slog.Debug("File deleted", "name", target.Name, "index", index)
	return nil
}

// ImportExample appends a copy of the catalog entry and selects it.
func (m *Manager) ImportExample(ctx context.Context, templateIndex int) error {
	examples := domain.Examples()
	if templateIndex < 0 || templateIndex >= len(examples) {
		return fmt.Errorf("%w: %d", domain.ErrUnknownExample, templateIndex)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	undo := m.checkpoint()
	m.files = append(m.files, examples[templateIndex])
	m.selected = len(m.files) - 1
	if err := m.commit(ctx, undo); err != nil {
		return err
	}
	return nil
}

// Select moves the selection and stores it.
func (m *Manager) Select(ctx context.Context, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkIndex(index); err != nil {
		return err
	}
	prev := m.selected
	m.selected = index
	if err := m.store.SaveSelected(ctx, index); err != nil {
		m.selected = prev
		return err
	}
	return nil
}

// Flush writes the whole collection and the selection to the store.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persist(ctx)
}

func (m *Manager) checkIndex(index int) error {
	if index < 0 || index >= len(m.files) {
		return fmt.Errorf("%w: %d (have %d files)", domain.ErrIndexOutOfRange, index, len(m.files))
	}
	return nil
}

// checkpoint records the collection and selection; the returned func puts
// them back. Must be called with mu held.
func (m *Manager) checkpoint() func() {
	files := slices.Clone(m.files)
	selected := m.selected
	return func() {
		m.files = files
		m.selected = selected
	}
}

// commit persists the pending change. On failure it reverts memory with
// undo and rewrites the reverted files, so memory and store agree again.
// Must be called with mu held.
func (m *Manager) commit(ctx context.Context, undo func()) error {
	err := m.persist(ctx)
	if err == nil {
		return nil
	}
	undo()
	if rerr := m.store.SaveFiles(ctx, m.files); rerr != nil {
		slog.Debug("Failed to restore persisted files", "error", rerr)
	}
	return err
}

// persist writes the files and the selection. Must be called with mu held.
func (m *Manager) persist(ctx context.Context) error {
	m.generation++
	if err := m.store.SaveFiles(ctx, m.files); err != nil {
		return err
	}
	return m.store.SaveSelected(ctx, m.selected)
}

// FirstLine returns content up to the first newline.
func FirstLine(content string) string {
	line, _, _ := strings.Cut(content, "\n")
	return line
}

// LineCount counts lines the way the editor status bar does: an empty
// buffer is one line.
func LineCount(content string) int {
	return strings.Count(content, "\n") + 1
}
