// Package settings holds the user settings consumed by the wiki client and the page explorer.
package settings

import (
	"context"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// StoreOptions configures a Store. A nil Repository keeps settings in memory only.
type StoreOptions struct {
	Repository Repository
	Logger     *logrus.Logger
}

// Store is the writable Provider. Every setter normalizes its input, persists it and
// notifies subscribers with the name of the changed setting.
type Store struct {
	repo   Repository
	logger *logrus.Logger

	mu        sync.RWMutex
	current   Settings
	listeners map[int]func(Name)
	nextID    int
}

var _ Provider = (*Store)(nil)

// NewStore loads the persisted settings and returns a ready Store.
func NewStore(ctx context.Context, opts StoreOptions) (*Store, error) {
	s := &Store{
		repo:      opts.Repository,
		logger:    opts.Logger,
		current:   withDefaults(Settings{}),
		listeners: make(map[int]func(Name)),
	}

	if s.repo == nil {
		return s, nil
	}

	values, err := s.repo.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "loading persisted settings")
	}
	s.current = fromValues(values)

	return s, nil
}

// Current returns a snapshot of the settings.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers a listener for setting changes.
func (s *Store) Subscribe(listener func(Name)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SetWikiURL stores the wiki base URL. An empty value clears it.
func (s *Store) SetWikiURL(ctx context.Context, raw string) error {
	value := NormalizeWikiURL(raw)
	return s.update(ctx, NameWikiURL, value, func(cur *Settings) { cur.WikiURL = value })
}

// SetAPIToken stores the access token. An empty value clears it.
func (s *Store) SetAPIToken(ctx context.Context, raw string) error {
	value := NormalizeAPIToken(raw)
	return s.update(ctx, NameAPIToken, value, func(cur *Settings) { cur.APIToken = value })
}

// ClearAPIToken forgets the access token.
func (s *Store) ClearAPIToken(ctx context.Context) error {
	return s.SetAPIToken(ctx, "")
}

// SetRootPath stores the tree root. An empty value restores the default.
func (s *Store) SetRootPath(ctx context.Context, raw string) error {
	value := NormalizeRootPath(raw)
	persisted := value
	if value == DefaultRootPath {
		persisted = ""
	}
	return s.update(ctx, NameRootPath, persisted, func(cur *Settings) { cur.RootPath = value })
}

// SetMaxPagePerTime stores the per-expansion ceiling. Non-positive values restore the default.
func (s *Store) SetMaxPagePerTime(ctx context.Context, n int) error {
	persisted := ""
	if n > 0 {
		persisted = strconv.Itoa(n)
	}
	value := NormalizeMaxPagePerTime(n)
	return s.update(ctx, NameMaxPagePerTime, persisted, func(cur *Settings) { cur.MaxPagePerTime = value })
}

func (s *Store) update(ctx context.Context, name Name, persisted string, apply func(*Settings)) error {
	if s.repo != nil {
		var err error
		if persisted == "" {
			err = s.repo.Delete(ctx, name)
		} else {
			err = s.repo.Save(ctx, name, persisted)
		}
		if err != nil {
			return eris.Wrapf(err, "updating setting %s", name)
		}
	}

	s.mu.Lock()
	apply(&s.current)
	listeners := make([]func(Name), 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.WithField("setting", name).Debug("setting changed")
	}

	for _, listener := range listeners {
		listener(name)
	}
	return nil
}
