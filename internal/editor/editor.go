// Package editor owns the lifecycle of one mounted editing session. A view
// creates a Session, boots it, feeds it user edits, and disposes it on
// unmount. Boot is a multi-step asynchronous sequence; Dispose may be called
// at any moment, including mid-boot, and every step re-checks the disposed
// flag before touching its handles.
package editor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cutline/internal/draftcache"
	"cutline/internal/logging"
	"cutline/internal/timeline"
)

// Host reports the layout size of the element the session is mounted in.
// Boot blocks until both dimensions are non-zero.
type Host interface {
	Size(ctx context.Context) (width, height int, err error)
}

// Surface is the visual rendering of the document.
type Surface interface {
	Attach(ctx context.Context, width, height int) error
	Load(ctx context.Context, doc timeline.Document) error
	Detach()
}

// Controls is the playback control strip attached after the document loads.
type Controls interface {
	Attach(ctx context.Context) error
	Detach()
}

// Source loads the authoritative edit document for a project. It returns
// false when no server-held edit exists yet.
type Source func(ctx context.Context, projectID string) (timeline.Document, bool, error)

// Change describes one user-driven mutation of the in-memory document.
type Change struct {
	ProjectID string
	Document  timeline.Document
}

var (
	ErrDisposed    = errors.New("editor session disposed")
	ErrBootStarted = errors.New("boot already started for this session")
)

const sizePollInterval = 25 * time.Millisecond

type Options struct {
	ProjectID string
	Host      Host
	Surface   Surface
	Controls  Controls
	Source    Source
	Cache     *draftcache.Cache
	Log       *slog.Logger
	// Fallback output size when neither the server nor the draft cache has
	// a document for the project.
	Width, Height int
}

type Session struct {
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	doc       timeline.Document
	booting   bool
	booted    bool
	disposed  bool
	observers []func(Change)
}

func NewSession(opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	return &Session{opts: opts, log: log}
}

// Boot runs the mount sequence: wait for the host to have a real size, build
// the document model, attach the surface, load the document into it, then
// attach the controls. Each step is an await boundary; if Dispose ran in the
// meantime, Boot stops without touching anything further and returns
// ErrDisposed. Only one boot may run at a time; a boot that failed for a
// transient reason may be retried.
func (s *Session) Boot(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.booting || s.booted {
		s.mu.Unlock()
		return ErrBootStarted
	}
	s.booting = true
	s.mu.Unlock()
	defer func() {
		if err != nil {
			s.mu.Lock()
			s.booting = false
			s.mu.Unlock()
		}
	}()

	width, height, err := s.waitForSize(ctx)
	if err != nil {
		return err
	}
	if s.isDisposed() {
		return ErrDisposed
	}

	doc, err := s.loadDocument(ctx, width, height)
	if err != nil {
		return err
	}
	if s.isDisposed() {
		return ErrDisposed
	}

	if err := s.opts.Surface.Attach(ctx, width, height); err != nil {
		return err
	}
	if s.isDisposed() {
		s.opts.Surface.Detach()
		return ErrDisposed
	}

	if err := s.opts.Surface.Load(ctx, doc); err != nil {
		s.opts.Surface.Detach()
		return err
	}
	if s.isDisposed() {
		s.opts.Surface.Detach()
		return ErrDisposed
	}

	if err := s.opts.Controls.Attach(ctx); err != nil {
		s.opts.Surface.Detach()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		s.opts.Controls.Detach()
		s.opts.Surface.Detach()
		return ErrDisposed
	}
	s.doc = doc
	s.booted = true
	s.booting = false
	return nil
}

func (s *Session) waitForSize(ctx context.Context) (int, int, error) {
	ticker := time.NewTicker(sizePollInterval)
	defer ticker.Stop()
	for {
		w, h, err := s.opts.Host.Size(ctx)
		if err != nil {
			return 0, 0, err
		}
		if w > 0 && h > 0 {
			return w, h, nil
		}
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// loadDocument prefers the server-held edit, falls back to the local draft
// cache, and starts empty when neither exists.
func (s *Session) loadDocument(ctx context.Context, width, height int) (timeline.Document, error) {
	if s.opts.Source != nil {
		doc, ok, err := s.opts.Source(ctx, s.opts.ProjectID)
		if err != nil {
			return timeline.Document{}, err
		}
		if ok {
			return doc, nil
		}
	}
	if s.opts.Cache != nil {
		doc, ok, err := s.opts.Cache.Load(ctx, s.opts.ProjectID)
		if err != nil {
			s.log.Warn("draft cache load failed", "project_id", s.opts.ProjectID, "error", err)
		} else if ok {
			return doc, nil
		}
	}
	w, h := s.opts.Width, s.opts.Height
	if w <= 0 || h <= 0 {
		w, h = width, height
	}
	return timeline.New(w, h), nil
}

func (s *Session) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose tears the session down. Safe to call at any point, more than once,
// and concurrently with Boot; a boot in flight aborts at its next boundary.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	booted := s.booted
	s.booted = false
	s.observers = nil
	s.mu.Unlock()

	if booted {
		s.opts.Controls.Detach()
		s.opts.Surface.Detach()
	}
}

// Observe registers a change observer. Observers fire synchronously on each
// explicit change event, after the draft has been handed to the cache.
func (s *Session) Observe(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.observers = append(s.observers, fn)
}

// Document returns a deep copy of the current in-memory document; later
// Apply calls never show through the returned value.
func (s *Session) Document() (timeline.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return timeline.Document{}, ErrDisposed
	}
	if !s.booted {
		return timeline.Document{}, errors.New("session not booted")
	}
	return s.doc.Clone(), nil
}

// Apply mutates the in-memory document synchronously, then persists the
// draft and notifies observers. Draft persistence is best-effort.
func (s *Session) Apply(ctx context.Context, mutate func(*timeline.Document)) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if !s.booted {
		s.mu.Unlock()
		return errors.New("session not booted")
	}
	mutate(&s.doc)
	doc := s.doc.Clone()
	observers := make([]func(Change), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	if s.opts.Cache != nil {
		s.opts.Cache.Save(ctx, s.opts.ProjectID, doc)
	}
	change := Change{ProjectID: s.opts.ProjectID, Document: doc}
	for _, fn := range observers {
		fn(change)
	}
	return nil
}
