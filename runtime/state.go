package runtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/scripthost/jscore/resource"
)

// OpState is the shared mutable state every op handler sees: the instance's
// resource table plus a keyed side table for embedder extensions (connection
// pools, permission sets, whatever the ops need).
//
// Sync handlers run on the loop goroutine; async handlers run on their own
// goroutines. Everything here is safe for concurrent use.
type OpState struct {
	resources *resource.Table
	values    map[any]any
	mu        sync.RWMutex
	log       *zap.Logger
}

// NewOpState creates an OpState with an empty resource table.
func NewOpState(log *zap.Logger) *OpState {
	if log == nil {
		log = Logger()
	}
	return &OpState{
		resources: resource.NewTable(),
		values:    make(map[any]any),
		log:       log,
	}
}

// Resources returns the instance's resource table.
func (s *OpState) Resources() *resource.Table {
	return s.resources
}

// Put stores an extension value under a key. Use unexported key types to
// avoid collisions between independent op sets.
func (s *OpState) Put(key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get retrieves an extension value.
func (s *OpState) Get(key any) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Logger returns the instance logger.
func (s *OpState) Logger() *zap.Logger {
	return s.log
}
