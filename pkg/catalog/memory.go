package catalog

import (
	"context"
	"sync"
)

// MemoryRegistrar keeps definitions in memory and counts mutations.
type MemoryRegistrar struct {
	mu        sync.Mutex
	databases map[string]bool
	tables    map[string]TableDef
	mutations int
}

func NewMemoryRegistrar() *MemoryRegistrar {
	return &MemoryRegistrar{databases: map[string]bool{}, tables: map[string]TableDef{}}
}

func (m *MemoryRegistrar) EnsureDatabase(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.databases[name] {
		m.databases[name] = true
		m.mutations++
	}
	return nil
}

func (m *MemoryRegistrar) Ensure(_ context.Context, def TableDef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tables[def.String()]
	if ok && cur.Covers(def) {
		return false, nil
	}
	if ok {
		def = cur.Merge(def)
	}
	m.tables[def.String()] = def
	m.mutations++
	return true, nil
}

// Mutations returns how many changes were applied.
func (m *MemoryRegistrar) Mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutations
}

// Table returns the registered definition of database.name.
func (m *MemoryRegistrar) Table(database, name string) (TableDef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.tables[TableDef{Database: database, Name: name}.String()]
	return def, ok
}
