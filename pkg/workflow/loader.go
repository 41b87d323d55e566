package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/ports"
)

// FileLoader loads workflow definitions from a directory of JSON files and
// caches them by reference. A ref "banking" resolves to <root>/banking.json.
type FileLoader struct {
	root string

	mu    sync.RWMutex
	cache map[string]*domain.Workflow

	pollInterval time.Duration
}

// FileOption configures a FileLoader.
type FileOption func(*FileLoader)

// WithPollInterval sets how often Watch checks for on-disk changes.
func WithPollInterval(d time.Duration) FileOption {
	return func(l *FileLoader) {
		l.pollInterval = d
	}
}

// NewFileLoader creates a loader rooted at dir.
func NewFileLoader(dir string, opts ...FileOption) *FileLoader {
	l := &FileLoader{
		root:         dir,
		cache:        make(map[string]*domain.Workflow),
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ ports.WorkflowLoader = (*FileLoader)(nil)
var _ ports.Watchable = (*FileLoader)(nil)

// Load implements ports.WorkflowLoader.
func (l *FileLoader) Load(_ context.Context, ref string) (*domain.Workflow, error) {
	l.mu.RLock()
	wf, ok := l.cache[ref]
	l.mu.RUnlock()
	if ok {
		return wf, nil
	}

	raw, err := os.ReadFile(l.path(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read workflow %s: %w", ref, err)
	}

	wf, err = Parse(raw)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[ref] = wf
	l.mu.Unlock()
	return wf, nil
}

func (l *FileLoader) path(ref string) string {
	name := ref
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return filepath.Join(l.root, filepath.Clean(name))
}

// Watch signals when any definition under the root changes, flushing the
// cache so the next Load re-reads from disk.
func (l *FileLoader) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	last, err := l.fingerprint()
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(ch)
		ticker := time.NewTicker(l.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := l.fingerprint()
				if err != nil || current == last {
					continue
				}
				last = current
				l.mu.Lock()
				l.cache = make(map[string]*domain.Workflow)
				l.mu.Unlock()
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()

	return ch, nil
}

func (l *FileLoader) fingerprint() (string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s:%d:%d;", e.Name(), info.Size(), info.ModTime().UnixNano())
	}
	return b.String(), nil
}

// StaticLoader serves pre-built definitions from memory. Used by tests and
// single-process demos.
type StaticLoader struct {
	mu        sync.RWMutex
	workflows map[string]*domain.Workflow
}

// NewStaticLoader creates a loader over the given definitions, keyed by
// workflow ID.
func NewStaticLoader(workflows ...*domain.Workflow) *StaticLoader {
	m := make(map[string]*domain.Workflow, len(workflows))
	for _, wf := range workflows {
		m[wf.ID] = wf
	}
	return &StaticLoader{workflows: m}
}

var _ ports.WorkflowLoader = (*StaticLoader)(nil)

// Add registers another definition.
func (l *StaticLoader) Add(wf *domain.Workflow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workflows[wf.ID] = wf
}

// Load implements ports.WorkflowLoader.
func (l *StaticLoader) Load(_ context.Context, ref string) (*domain.Workflow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	wf, ok := l.workflows[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, ref)
	}
	return wf, nil
}
