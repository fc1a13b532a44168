package service

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time so schedule computations can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewSystemClock returns a Clock backed by time.Now.
func NewSystemClock() Clock { return systemClock{} }

var (
	locMu    sync.Mutex
	locCache = map[string]*time.Location{}
)

// loadLocation resolves an IANA timezone name, falling back to UTC for
// empty or unknown names. Lookups are cached.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}

	locMu.Lock()
	defer locMu.Unlock()

	if loc, ok := locCache[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locCache[name] = loc
	return loc
}
