package archive

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openzim/ifixit/pkg/utils"
)

// MemoryWriter keeps the archive in memory. Used for dry runs and tests.
type MemoryWriter struct {
	mu        sync.Mutex
	started   bool
	finished  bool
	canFinish bool
	items     map[string]Item
	redirects map[string]string
	order     []string
}

// NewMemoryWriter returns an empty writer that is allowed to finish.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{
		canFinish: true,
		items:     make(map[string]Item),
		redirects: make(map[string]string),
	}
}

func (m *MemoryWriter) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("%w: already started", utils.ErrArchiveClosed)
	}
	m.started = true
	return nil
}

func (m *MemoryWriter) accepting() error {
	if !m.started || m.finished {
		return utils.ErrArchiveClosed
	}
	return nil
}

func (m *MemoryWriter) AddItem(item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.accepting(); err != nil {
		return err
	}
	if m.exists(item.Path) {
		return fmt.Errorf("%w: duplicate entry %q", utils.ErrFilesystem, item.Path)
	}
	m.items[item.Path] = item
	m.order = append(m.order, item.Path)
	return nil
}

func (m *MemoryWriter) AddRedirect(path, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.accepting(); err != nil {
		return err
	}
	if m.exists(path) {
		return fmt.Errorf("%w: duplicate entry %q", utils.ErrFilesystem, path)
	}
	m.redirects[path] = target
	m.order = append(m.order, path)
	return nil
}

func (m *MemoryWriter) exists(path string) bool {
	_, isItem := m.items[path]
	_, isRedirect := m.redirects[path]
	return isItem || isRedirect
}

func (m *MemoryWriter) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.accepting(); err != nil {
		return err
	}
	if !m.canFinish {
		return fmt.Errorf("%w: finishing is not allowed", utils.ErrArchiveClosed)
	}
	m.finished = true
	return nil
}

func (m *MemoryWriter) SetCanFinish(ok bool) {
	m.mu.Lock()
	m.canFinish = ok
	m.mu.Unlock()
}

func (m *MemoryWriter) CanFinish() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canFinish
}

// Finished reports whether Finish succeeded.
func (m *MemoryWriter) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}

// Item returns the item stored at path.
func (m *MemoryWriter) Item(path string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[path]
	return it, ok
}

// Redirect returns the target of the redirect stored at path.
func (m *MemoryWriter) Redirect(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.redirects[path]
	return t, ok
}

// ItemPaths returns the sorted paths of all items.
func (m *MemoryWriter) ItemPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.items))
	for p := range m.items {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// RedirectPaths returns the sorted paths of all redirects.
func (m *MemoryWriter) RedirectPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.redirects))
	for p := range m.redirects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of entries (items and redirects).
func (m *MemoryWriter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}
