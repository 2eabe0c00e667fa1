package engine

import (
	"context"
	"errors"
	"sync"
)

// StatTable is a bounded in-process sample table with update-or-insert
// semantics, keyed by the sample's channel key. When full, the least
// recently updated entry is evicted.
type StatTable struct {
	mtx     sync.RWMutex
	rows    int
	entries map[string]*Sample
	order   []string
}

// Ensure the stat table implements the Sink interface.
var _ Sink = (*StatTable)(nil)

// NewStatTable initializes a stat table with the provided row capacity.
func NewStatTable(rows int) (*StatTable, error) {
	if rows <= 0 {
		return nil, errors.New("stat table capacity must be positive")
	}

	return &StatTable{
		rows:    rows,
		entries: make(map[string]*Sample, rows),
		order:   make([]string, 0, rows),
	}, nil
}

// Publish updates the row for the sample's key, inserting it if absent.
func (st *StatTable) Publish(_ context.Context, sample Sample) error {
	key := sample.Key()

	st.mtx.Lock()
	defer st.mtx.Unlock()

	_, exists := st.entries[key]
	st.entries[key] = &sample
	if exists {
		st.touch(key)
		return nil
	}

	if len(st.order) == st.rows {
		oldest := st.order[0]
		st.order = st.order[1:]
		delete(st.entries, oldest)
	}
	st.order = append(st.order, key)

	return nil
}

// touch moves the key to the most recently updated position.
func (st *StatTable) touch(key string) {
	for idx := range st.order {
		if st.order[idx] == key {
			st.order = append(st.order[:idx], st.order[idx+1:]...)
			st.order = append(st.order, key)
			return
		}
	}
}

// Lookup returns the sample stored under the provided key.
func (st *StatTable) Lookup(key string) (Sample, bool) {
	st.mtx.RLock()
	defer st.mtx.RUnlock()

	sample, ok := st.entries[key]
	if !ok {
		return Sample{}, false
	}

	return *sample, true
}

// Len returns the number of stored samples.
func (st *StatTable) Len() int {
	st.mtx.RLock()
	defer st.mtx.RUnlock()
	return len(st.entries)
}
