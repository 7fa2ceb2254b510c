// Package exclusive arbitrates access to physical ports between tool
// instances. A port key is held by at most one owner at a time, across
// processes where the OS supports file locks. Within one logical call chain
// (tracked through context.Context) the same key can be acquired again
// without blocking.
package exclusive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrTimeout is returned when the key stayed held for the whole timeout.
var ErrTimeout = errors.New("timed out waiting for exclusive access")

// DefaultRepollInterval bounds how long a waiter sleeps between attempts to
// take over a lock whose owner may have died.
const DefaultRepollInterval = time.Second

// Registry is the process-wide exclusive access table. Construct one at
// startup and share it.
type Registry struct {
	dir    string
	repoll time.Duration
	log    zerolog.Logger

	mu   sync.Mutex
	held map[string]*entry
}

type entry struct {
	key      string
	token    string
	refs     int
	lock     fileLock
	released chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithDir sets the directory holding the lock files.
func WithDir(dir string) Option {
	return func(r *Registry) { r.dir = dir }
}

// WithRepollInterval sets the interval between lock attempts while waiting.
func WithRepollInterval(d time.Duration) Option {
	return func(r *Registry) { r.repoll = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates a registry. Lock files live under the system temp
// directory unless WithDir is given.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		dir:    filepath.Join(os.TempDir(), "nfdbg-locks"),
		repoll: DefaultRepollInterval,
		log:    zerolog.Nop(),
		held:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return r, nil
}

type scopeKey struct{ key string }

// Guard is one acquisition of a key. Release it exactly when done; further
// calls are no-ops.
type Guard struct {
	r    *Registry
	e    *entry
	once sync.Once
}

// Key returns the port key this guard holds.
func (g *Guard) Key() string { return g.e.key }

// Release drops this acquisition. The underlying lock is freed when the last
// nested acquisition is released.
func (g *Guard) Release() {
	g.once.Do(func() { g.r.release(g.e) })
}

// Acquire takes exclusive access to key. If ctx already carries a guard for
// key, the acquisition nests and returns immediately. Otherwise it waits up
// to timeout (zero means no limit besides ctx). The returned context carries
// the acquisition and must be passed to nested calls.
func (r *Registry) Acquire(ctx context.Context, key string, timeout time.Duration) (*Guard, context.Context, error) {
	if e, ok := ctx.Value(scopeKey{key}).(*entry); ok && r.retain(e) {
		r.log.Trace().Str("key", key).Msg("nested exclusive access")
		return &Guard{r: r, e: e}, ctx, nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		e, wait, err := r.tryAcquire(key)
		if err != nil {
			return nil, ctx, err
		}
		if e != nil {
			r.log.Debug().Str("key", key).Str("owner", e.token).Msg("exclusive access granted")
			return &Guard{r: r, e: e}, context.WithValue(ctx, scopeKey{key}, e), nil
		}

		repoll := time.NewTimer(r.repoll)
		select {
		case <-ctx.Done():
			repoll.Stop()
			return nil, ctx, fmt.Errorf("acquire %s: %w", key, ctx.Err())
		case <-deadline:
			repoll.Stop()
			return nil, ctx, fmt.Errorf("acquire %s: %w%s", key, ErrTimeout, r.describeHolder(key))
		case <-wait:
			repoll.Stop()
		case <-repoll.C:
		}
	}
}

// Held reports whether key is currently held by this process.
func (r *Registry) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[key] != nil
}

func (r *Registry) retain(e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.refs == 0 || r.held[e.key] != e {
		return false
	}
	e.refs++
	return true
}

// tryAcquire makes one non-blocking attempt. When the key is held inside
// this process it returns a channel closed on release.
func (r *Registry) tryAcquire(key string) (*entry, <-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := r.held[key]; cur != nil {
		return nil, cur.released, nil
	}
	token := uuid.NewString()
	lock, ok, err := tryLockFile(r.lockPath(key), token)
	if err != nil {
		return nil, nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil, nil
	}
	e := &entry{key: key, token: token, refs: 1, lock: lock, released: make(chan struct{})}
	r.held[key] = e
	return e, nil, nil
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.refs == 0 {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	if err := e.lock.unlock(); err != nil {
		r.log.Warn().Err(err).Str("key", e.key).Msg("releasing lock file")
	}
	if r.held[e.key] == e {
		delete(r.held, e.key)
	}
	close(e.released)
	r.log.Debug().Str("key", e.key).Msg("exclusive access released")
}

func (r *Registry) describeHolder(key string) string {
	b, err := os.ReadFile(r.lockPath(key))
	if err != nil || len(b) == 0 {
		return ""
	}
	return " (held by " + strings.TrimSpace(string(b)) + ")"
}

func (r *Registry) lockPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	var b strings.Builder
	for _, c := range key {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	return filepath.Join(r.dir, b.String()+"-"+hex.EncodeToString(sum[:4])+".lock")
}
