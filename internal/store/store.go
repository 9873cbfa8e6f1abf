// Package store persists uploaded byte streams as flat files under generated
// short identifiers, evicting the oldest objects once a configured capacity
// is exceeded. The filename is the only persisted record; there is no
// metadata index.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// deleteQueueDepth buffers background deletions so a burst of evictions does
// not block request handling.
const deleteQueueDepth = 256

// Config describes one object collection.
type Config struct {
	// Dir is the base directory. It is created if absent; objects live in it
	// as flat files named <id>.<ext>.
	Dir string
	// MaxSize is the largest accepted object in bytes.
	MaxSize int64
	// MaxCount bounds how many objects are kept. Zero disables eviction and
	// tracking entirely.
	MaxCount int
	// Evictions, when non-nil, counts objects displaced by newer uploads.
	Evictions prometheus.Counter
}

// Store is a bounded-history object store over a flat directory.
//
// The mutex guards only the tracked-path queue; file reads and writes happen
// outside it, and evicted files are unlinked by a background janitor so no
// request ever waits on a delete.
type Store struct {
	dir     string
	maxSize int64
	namer   *namer

	mu   sync.Mutex
	fifo *fifo // nil when no capacity is configured

	evictions prometheus.Counter

	deletes chan string
	done    chan struct{}
	wg      sync.WaitGroup
}

// New opens the collection at cfg.Dir, creating the directory when missing
// and loading files already present into the tracked queue. Files found
// beyond cfg.MaxCount (left by a prior run with a larger capacity, or an
// unclean shutdown) are deleted during setup.
func New(cfg Config) (*Store, error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("max object size must be positive, got %d", cfg.MaxSize)
	}
	if cfg.MaxCount < 0 {
		return nil, fmt.Errorf("max object count must not be negative, got %d", cfg.MaxCount)
	}

	namer, err := newNamer()
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:       cfg.Dir,
		maxSize:   cfg.MaxSize,
		namer:     namer,
		evictions: cfg.Evictions,
		deletes:   make(chan string, deleteQueueDepth),
		done:      make(chan struct{}),
	}
	if cfg.MaxCount > 0 {
		s.fifo = newFIFO(cfg.MaxCount)
	}

	if err := s.prepopulate(); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.janitor()
	return s, nil
}

// prepopulate scans the base directory so files from previous runs count
// toward the capacity. A missing directory is an empty collection, not an
// error; anything else failing here is fatal to startup.
func (s *Store) prepopulate() error {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return fmt.Errorf("create base dir: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read base dir: %w", err)
	}

	if s.fifo == nil {
		return nil
	}
	tracked := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if oldest, evicted := s.fifo.push(path); evicted {
			if err := os.Remove(oldest); err != nil {
				return fmt.Errorf("trim excess object: %w", err)
			}
		}
		tracked++
	}
	log.Info().Str("dir", s.dir).Int("found", tracked).Int("tracked", s.fifo.len()).
		Msg("store prepopulated")
	return nil
}

// Dir returns the base directory.
func (s *Store) Dir() string {
	return s.dir
}

// MaxSize returns the maximum accepted object size in bytes.
func (s *Store) MaxSize() int64 {
	return s.maxSize
}

// Push reserves a tracked slot for path, displacing the oldest entry when the
// queue is full. It performs no filesystem I/O; the caller is responsible for
// handing the evicted path to RemoveAsync. With no capacity configured it
// never evicts.
func (s *Store) Push(path string) (evicted string, ok bool) {
	if s.fifo == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fifo.push(path)
}

// Save streams an object to disk and returns its public filename. first is
// the chunk already consumed by content classification; the rest is copied
// from r. The object's slot is reserved before the write begins so an
// in-flight upload is evictable like any finished one. On any failure,
// including the reader breaking mid-stream, the partial file is handed to
// background deletion.
func (s *Store) Save(first []byte, r io.Reader, ext string) (string, int64, error) {
	name := s.namer.next() + "." + ext
	path := filepath.Join(s.dir, name)

	if oldest, ok := s.Push(path); ok {
		if s.evictions != nil {
			s.evictions.Inc()
		}
		s.RemoveAsync(oldest)
	}

	committed := false
	defer func() {
		// the tracked slot stays; a stale entry just evicts harmlessly later
		if !committed {
			s.RemoveAsync(path)
		}
	}()

	// The 64-bit sequence makes a name collision need a wraparound within one
	// process, so overwriting beats the cost of staging and renaming.
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create object: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = f.Close()
		}
	}()

	if int64(len(first)) > s.maxSize {
		return "", 0, ErrTooLarge
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(first); err != nil {
		return "", 0, fmt.Errorf("write object: %w", err)
	}
	written := int64(len(first))

	buf := make([]byte, 32*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.maxSize {
				return "", 0, ErrTooLarge
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return "", 0, fmt.Errorf("write object: %w", err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", 0, fmt.Errorf("read upload: %w", rerr)
		}
	}

	if err := w.Flush(); err != nil {
		return "", 0, fmt.Errorf("flush object: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("close object: %w", err)
	}
	closed = true
	committed = true
	return name, written, nil
}

// RemoveAsync queues path for deletion off the request path. If the queue is
// saturated the delete falls through to its own goroutine rather than
// blocking the caller.
func (s *Store) RemoveAsync(path string) {
	select {
	case s.deletes <- path:
	default:
		go removeFile(path)
	}
}

func (s *Store) janitor() {
	defer s.wg.Done()
	for {
		select {
		case path := <-s.deletes:
			removeFile(path)
		case <-s.done:
			// flush whatever is already queued, then exit
			for {
				select {
				case path := <-s.deletes:
					removeFile(path)
				default:
					return
				}
			}
		}
	}
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// correctness only requires the path be untracked; the unlink itself
		// is best effort
		log.Warn().Err(err).Str("path", path).Msg("failed to delete evicted object")
	}
}

// Close stops the background janitor after flushing pending deletions.
func (s *Store) Close() {
	close(s.done)
	s.wg.Wait()
}
