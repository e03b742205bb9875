package store

import (
	"context"

	"github.com/njoerd114/straysync/internal/model"
)

// Watch returns a channel that receives the current rows matching q, followed
// by a fresh snapshot after every write to reports of that kind. Writes that
// land while a snapshot is being delivered are coalesced into one re-query.
// The channel is closed when ctx is done or a query fails.
func (s *Store) Watch(ctx context.Context, kind model.Kind, q Query) (<-chan []*model.Report, error) {
	// Fail fast on an invalid query instead of inside the goroutine.
	if _, err := s.List(ctx, kind, q); err != nil {
		return nil, err
	}

	signal := s.subscribe(kind)
	out := make(chan []*model.Report)

	go func() {
		defer close(out)
		defer s.unsubscribe(kind, signal)

		for {
			rows, err := s.List(ctx, kind, q)
			if err != nil {
				return
			}
			select {
			case out <- rows:
			case <-ctx.Done():
				return
			}
			select {
			case <-signal:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) subscribe(kind model.Kind) chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[kind] == nil {
		s.subs[kind] = make(map[chan struct{}]struct{})
	}
	s.subs[kind][ch] = struct{}{}
	return ch
}

func (s *Store) unsubscribe(kind model.Kind, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[kind], ch)
}

// notify wakes every watcher of kind without blocking the writer.
func (s *Store) notify(kind model.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[kind] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
