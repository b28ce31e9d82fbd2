package library

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps titles in process memory. Each title has its own mutex,
// so updates to different titles never wait on each other; the outer lock only
// guards the title map itself.
type MemoryStore struct {
	mu     sync.RWMutex
	titles map[string]*titleSlot

	// record id -> title id
	owners sync.Map
}

type titleSlot struct {
	mu    sync.Mutex
	title *Title
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{titles: make(map[string]*titleSlot)}
}

func (s *MemoryStore) CreateTitle(_ context.Context, t *Title) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.titles[t.ID]; exists {
		return fmt.Errorf("%w: title %s already exists", ErrInvalidArgument, t.ID)
	}
	stored := t.clone()
	stored.markLoaded()
	s.titles[t.ID] = &titleSlot{title: stored}
	for _, rec := range stored.Records {
		s.owners.Store(rec.ID, stored.ID)
	}
	return nil
}

func (s *MemoryStore) slot(titleID string) (*titleSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.titles[titleID]
	if !ok {
		return nil, notFound("title %s", titleID)
	}
	return slot, nil
}

func (s *MemoryStore) GetTitle(ctx context.Context, titleID string) (*Title, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("get title", err)
	}
	slot, err := s.slot(titleID)
	if err != nil {
		return nil, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.title.clone(), nil
}

func (s *MemoryStore) UpdateTitle(ctx context.Context, titleID string, fn func(*Title) error) (*Title, error) {
	slot, err := s.slot(titleID)
	if err != nil {
		return nil, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, storageError("update title", err)
	}

	working := slot.title.clone()
	working.markLoaded()
	if err := fn(working); err != nil {
		return nil, err
	}

	for id, change := range working.changes {
		if change == recordAppended {
			s.owners.Store(id, titleID)
		}
	}
	working.markLoaded()
	slot.title = working
	return working.clone(), nil
}

func (s *MemoryStore) TitleIDForRecord(_ context.Context, recordID string) (string, error) {
	if v, ok := s.owners.Load(recordID); ok {
		return v.(string), nil
	}
	return "", notFound("borrowing record %s", recordID)
}

func (s *MemoryStore) Borrowings(ctx context.Context, q BorrowingQuery) ([]BorrowingView, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("list borrowings", err)
	}

	s.mu.RLock()
	slots := make([]*titleSlot, 0, len(s.titles))
	for _, slot := range s.titles {
		slots = append(slots, slot)
	}
	s.mu.RUnlock()

	views := []BorrowingView{}
	for _, slot := range slots {
		slot.mu.Lock()
		for _, rec := range slot.title.Records {
			v := slot.title.view(rec)
			if q.matches(v) {
				views = append(views, v)
			}
		}
		slot.mu.Unlock()
	}

	sortViews(views, q.Sort)
	return views, nil
}

func (s *MemoryStore) Titles(ctx context.Context) ([]Title, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("list titles", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	titles := make([]Title, 0, len(s.titles))
	for _, slot := range s.titles {
		slot.mu.Lock()
		t := *slot.title
		slot.mu.Unlock()
		t.Records = nil
		t.changes = nil
		titles = append(titles, t)
	}
	sort.Slice(titles, func(i, j int) bool { return titles[i].ID < titles[j].ID })
	return titles, nil
}

func (s *MemoryStore) Close() error { return nil }
