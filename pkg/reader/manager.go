package reader

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager keeps a bounded pool of open Readers, closing the least
// recently used file when the descriptor budget is reached. Build
// pipelines revisit files for duplicate checks, so keeping recent
// files open avoids reopen churn.
type Manager struct {
	mu    sync.Mutex
	limit int
	open  map[string]*Reader
	order []string
	log   *logrus.Entry
}

// NewManager returns a manager holding at most limit open files; a
// non-positive limit uses the process descriptor budget.
func NewManager(limit int, log *logrus.Entry) *Manager {
	if limit <= 0 {
		limit = FileLimit()
	}
	return &Manager{limit: limit, open: make(map[string]*Reader), log: log}
}

// Open returns the pooled reader for path, opening it if needed.
func (m *Manager) Open(path string, direct bool) (*Reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.open[path]; ok {
		m.touch(path)
		return r, nil
	}
	if len(m.open) >= m.limit {
		m.evict()
	}
	r, err := Open(path, direct)
	if err != nil {
		return nil, err
	}
	m.open[path] = r
	m.order = append(m.order, path)
	return r, nil
}

// Close closes every pooled reader.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, r := range m.open {
		if err := r.Close(); err != nil && m.log != nil {
			m.log.WithError(err).WithField("file", path).Warn("close source file")
		}
	}
	m.open = make(map[string]*Reader)
	m.order = nil
}

// Open count, for tests and diagnostics.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

func (m *Manager) touch(path string) {
	for i, p := range m.order {
		if p == path {
			m.order = append(append(m.order[:i:i], m.order[i+1:]...), path)
			return
		}
	}
}

func (m *Manager) evict() {
	if len(m.order) == 0 {
		return
	}
	victim := m.order[0]
	m.order = m.order[1:]
	if r, ok := m.open[victim]; ok {
		if err := r.Close(); err != nil && m.log != nil {
			m.log.WithError(err).WithField("file", victim).Warn("close source file")
		}
		delete(m.open, victim)
	}
}
