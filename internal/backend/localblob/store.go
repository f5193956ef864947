// Package localblob is a disk-backed blob store with resumable uploads:
// chunked writes with progress callbacks, pause/cancel, and a terminal
// download URL served from the store's root directory.
package localblob

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cnc-lab/talk.git/internal/backend"
)

const defaultChunkSize = 32 * 1024

type Store struct {
	root      string
	urlPrefix string

	// ChunkSize is the transfer granularity; progress fires once per chunk.
	ChunkSize int64
}

func New(root, urlPrefix string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, urlPrefix: strings.TrimSuffix(urlPrefix, "/"), ChunkSize: defaultChunkSize}, nil
}

// clean maps an object path onto the store root. Paths with ".." segments
// are rejected outright: they would reach outside the prefix the caller is
// allowed to write.
func (s *Store) clean(p string) (rel, abs string, err error) {
	p = strings.TrimSpace(p)
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", "", backend.ErrUnauthorized
		}
	}
	rel = strings.TrimPrefix(path.Clean("/"+p), "/")
	if rel == "" || rel == "." {
		return "", "", backend.ErrUnauthorized
	}
	return rel, filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

func (s *Store) DownloadURL(p string) (string, error) {
	rel, abs, err := s.clean(p)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return s.urlPrefix + "/" + rel, nil
}

// Begin starts the upload on its own goroutine and returns the handle
// immediately. Exactly one of hooks.Error or hooks.Success fires last.
func (s *Store) Begin(p string, r io.Reader, size int64, contentType string, hooks backend.UploadHooks) backend.Upload {
	u := &upload{done: make(chan struct{})}
	u.cond = sync.NewCond(&u.mu)
	go u.run(s, p, r, size, hooks)
	return u
}

type upload struct {
	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	cancelled bool
	done      chan struct{}
}

func (u *upload) Pause() {
	u.mu.Lock()
	u.paused = true
	u.mu.Unlock()
}

func (u *upload) Resume() {
	u.mu.Lock()
	u.paused = false
	u.mu.Unlock()
	u.cond.Broadcast()
}

func (u *upload) Cancel() {
	u.mu.Lock()
	u.cancelled = true
	u.paused = false
	u.mu.Unlock()
	u.cond.Broadcast()
}

func (u *upload) Done() <-chan struct{} { return u.done }

// gate blocks while paused and reports whether the upload may continue.
func (u *upload) gate() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for u.paused && !u.cancelled {
		u.cond.Wait()
	}
	return !u.cancelled
}

func (u *upload) run(s *Store, p string, r io.Reader, size int64, hooks backend.UploadHooks) {
	defer close(u.done)
	fail := func(err error) {
		log.Warn().Err(err).Str("path", p).Msg("upload failed")
		if hooks.Error != nil {
			hooks.Error(err)
		}
	}

	rel, abs, err := s.clean(p)
	if err != nil {
		fail(err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		fail(err)
		return
	}
	part := abs + ".part"
	f, err := os.Create(part)
	if err != nil {
		fail(err)
		return
	}

	chunk := s.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	var transferred int64
	buf := make([]byte, chunk)
	for {
		if !u.gate() {
			_ = f.Close()
			_ = os.Remove(part)
			fail(backend.ErrCancelled)
			return
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				_ = f.Close()
				_ = os.Remove(part)
				fail(werr)
				return
			}
			transferred += int64(n)
			if hooks.Progress != nil {
				hooks.Progress(transferred, size)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = f.Close()
			_ = os.Remove(part)
			fail(rerr)
			return
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(part)
		fail(err)
		return
	}
	if err := os.Rename(part, abs); err != nil {
		fail(err)
		return
	}
	if hooks.Success != nil {
		hooks.Success(s.urlPrefix + "/" + rel)
	}
}
