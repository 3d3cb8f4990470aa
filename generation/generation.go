// Package generation manages the lifecycle of frozen jar generations: a
// directory of immutable generation dirs, a manifest describing the committed
// state, and a CURRENT pointer naming the manifest in force. Readers acquire
// refcounted handles on the committed generation; superseded generations are
// retired only after their last reader drains.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hupe1980/coljar/internal/fsutil"
	"github.com/hupe1980/coljar/notify"
	"github.com/hupe1980/coljar/resource"
)

const (
	// ManifestFileName is the prefix of versioned manifest files.
	ManifestFileName = "MANIFEST"
	// CurrentFileName is the pointer file naming the manifest in force.
	CurrentFileName = "CURRENT"
	// ManifestVersion is the current manifest schema version.
	ManifestVersion = 1

	genDirFormat = "gen-%08d"
)

var (
	// ErrNoCurrent is returned when no generation has been committed yet.
	ErrNoCurrent = errors.New("generation: no committed generation")

	// ErrUnknownGeneration is returned for a generation the manager has never
	// seen committed.
	ErrUnknownGeneration = errors.New("generation: unknown generation")

	// ErrRetireCurrent is returned when retiring the committed generation.
	ErrRetireCurrent = errors.New("generation: cannot retire the current generation")
)

// Manifest describes the committed state at a specific point in time.
type Manifest struct {
	Version    int    `json:"version"`
	ID         uint64 `json:"id"`
	Generation uint64 `json:"generation"`
	Dir        string `json:"dir"` // relative to the manager's root dir
	Rows       uint64 `json:"rows"`
}

type options struct {
	logger       *slog.Logger
	resourceCtrl *resource.Controller
	notifyBuffer int
}

// Option configures a Manager.
type Option func(*options)

// WithLogger sets the structured logger. Pass nil to discard logs.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithResourceController bounds retirement and archive work.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resourceCtrl = rc
	}
}

// WithNotifyBuffer sets the per-subscriber channel buffer for commit
// notifications. Default: 1.
func WithNotifyBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.notifyBuffer = n
		}
	}
}

// genState tracks reader refcounts for one generation. idle is closed while
// the refcount is zero.
type genState struct {
	refs int
	idle chan struct{}
}

// Manager coordinates generation directories under a single root.
// All methods are safe for concurrent use.
type Manager struct {
	dir  string
	opts options
	bc   *notify.Broadcaster[uint64]

	mu         sync.Mutex
	current    uint64 // 0 means none
	currentDir string
	nextGen    uint64
	manifestID uint64
	states     map[uint64]*genState
	retired    map[uint64]bool
}

// NewManager opens (or initializes) a generation root directory and recovers
// the committed state from the CURRENT pointer.
func NewManager(dir string, optFns ...Option) (*Manager, error) {
	opts := options{notifyBuffer: 1}
	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}
	if opts.logger == nil {
		opts.logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	m := &Manager{
		dir:     dir,
		opts:    opts,
		bc:      notify.NewBroadcaster[uint64](opts.notifyBuffer),
		nextGen: 1,
		states:  make(map[uint64]*genState),
		retired: make(map[uint64]bool),
	}

	if err := m.recover(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) recover() error {
	manifest, err := loadManifest(m.dir)
	if err != nil {
		return err
	}
	if manifest != nil {
		m.current = manifest.Generation
		m.currentDir = filepath.Join(m.dir, manifest.Dir)
		m.manifestID = manifest.ID
		m.states[m.current] = newGenState()
	}

	// Generation numbering continues past anything on disk, committed or not.
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		var gen uint64
		if _, err := fmt.Sscanf(e.Name(), genDirFormat, &gen); err == nil && gen >= m.nextGen {
			m.nextGen = gen + 1
		}
	}
	if m.current >= m.nextGen {
		m.nextGen = m.current + 1
	}

	m.opts.logger.Info("generation manager recovered",
		"dir", m.dir,
		"current", m.current,
		"next", m.nextGen,
	)
	return nil
}

func newGenState() *genState {
	idle := make(chan struct{})
	close(idle)
	return &genState{idle: idle}
}

func loadManifest(dir string) (*Manifest, error) {
	content, err := os.ReadFile(filepath.Join(dir, CurrentFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, string(content)))
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("generation: unsupported manifest version %d (expected %d)", m.Version, ManifestVersion)
	}
	return &m, nil
}

// NextGeneration allocates the next generation number and returns the
// directory a builder should freeze into. The directory does not exist until
// the freeze publishes it, and it carries no weight until Commit.
func (m *Manager) NextGeneration() (uint64, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen := m.nextGen
	m.nextGen++
	return gen, filepath.Join(m.dir, fmt.Sprintf(genDirFormat, gen))
}

// Commit durably records gen as the current generation: a new manifest file
// is written temp-then-rename, then the CURRENT pointer flips to it.
// Subscribers are notified after the pointer lands.
func (m *Manager) Commit(ctx context.Context, gen uint64, rows uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rel := fmt.Sprintf(genDirFormat, gen)
	genDir := filepath.Join(m.dir, rel)
	if _, err := os.Stat(genDir); err != nil {
		return fmt.Errorf("%w: %d: %v", ErrUnknownGeneration, gen, err)
	}

	m.manifestID++
	manifest := Manifest{
		Version:    ManifestVersion,
		ID:         m.manifestID,
		Generation: gen,
		Dir:        rel,
		Rows:       rows,
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}

	manifestName := fmt.Sprintf("%s-%06d.json", ManifestFileName, m.manifestID)
	if err := fsutil.SaveToFile(filepath.Join(m.dir, manifestName), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		m.manifestID--
		return err
	}

	if err := fsutil.SaveToFile(filepath.Join(m.dir, CurrentFileName), func(w io.Writer) error {
		_, err := w.Write([]byte(manifestName))
		return err
	}); err != nil {
		return err
	}

	m.current = gen
	m.currentDir = genDir
	if _, ok := m.states[gen]; !ok {
		m.states[gen] = newGenState()
	}

	m.opts.logger.InfoContext(ctx, "generation committed",
		"generation", gen,
		"rows", rows,
		"manifest", manifestName,
	)

	m.bc.Broadcast(gen)
	return nil
}

// Current returns the committed generation and its directory.
func (m *Manager) Current() (uint64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == 0 {
		return 0, "", ErrNoCurrent
	}
	return m.current, m.currentDir, nil
}

// Acquire pins the current generation against retirement and returns a
// handle. The caller must Release the handle when done reading.
func (m *Manager) Acquire() (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == 0 {
		return nil, ErrNoCurrent
	}

	st := m.states[m.current]
	if st.refs == 0 {
		st.idle = make(chan struct{})
	}
	st.refs++

	return &Handle{m: m, gen: m.current, dir: m.currentDir}, nil
}

func (m *Manager) release(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[gen]
	if !ok || st.refs == 0 {
		return
	}
	st.refs--
	if st.refs == 0 {
		close(st.idle)
	}
}

// Retire removes a superseded generation's directory once no handle pins it.
// Blocks until the last reader drains or ctx is cancelled. The current
// generation cannot be retired.
func (m *Manager) Retire(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	if gen == m.current {
		m.mu.Unlock()
		return ErrRetireCurrent
	}
	if m.retired[gen] {
		m.mu.Unlock()
		return nil
	}
	st, ok := m.states[gen]
	if !ok {
		st = newGenState()
	}
	idle := st.idle
	m.mu.Unlock()

	// No new handles can appear: Acquire only pins the current generation.
	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	if rc := m.opts.resourceCtrl; rc != nil {
		if err := rc.AcquireBackground(ctx); err != nil {
			return err
		}
		defer rc.ReleaseBackground()
	}

	if err := os.RemoveAll(filepath.Join(m.dir, fmt.Sprintf(genDirFormat, gen))); err != nil {
		return err
	}
	fsutil.SyncDir(m.dir)

	m.mu.Lock()
	m.retired[gen] = true
	delete(m.states, gen)
	m.mu.Unlock()

	m.opts.logger.InfoContext(ctx, "generation retired", "generation", gen)
	return nil
}

// Subscribe registers for commit notifications. Each commit delivers the new
// generation number; slow subscribers are pruned rather than blocked.
func (m *Manager) Subscribe() (notify.Token, <-chan uint64) {
	return m.bc.Subscribe()
}

// Unsubscribe removes a subscriber.
func (m *Manager) Unsubscribe(token notify.Token) {
	m.bc.Unsubscribe(token)
}

// Generations lists the generation numbers present on disk, ascending.
func (m *Manager) Generations() ([]uint64, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var gens []uint64
	for _, e := range entries {
		var gen uint64
		if _, err := fmt.Sscanf(e.Name(), genDirFormat, &gen); err == nil && e.IsDir() {
			gens = append(gens, gen)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// Close shuts down commit notifications. Pending handles stay valid.
func (m *Manager) Close() error {
	m.bc.Close()
	return nil
}

// Handle pins one generation against retirement.
type Handle struct {
	m   *Manager
	gen uint64
	dir string

	once sync.Once
}

// Generation returns the pinned generation number.
func (h *Handle) Generation() uint64 { return h.gen }

// Dir returns the pinned generation's directory.
func (h *Handle) Dir() string { return h.dir }

// Release unpins the generation. Safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.m.release(h.gen)
	})
}
