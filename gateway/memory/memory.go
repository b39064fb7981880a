// Package memory provides an in-memory Gateway (for tests and demos).
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/warp/dorm-engine/gateway"
)

// =============================================================================
// MEMORY GATEWAY - In-memory tables with unique index enforcement
// =============================================================================

type table struct {
	schema gateway.TableSchema
	order  []string // ids in insertion order
	rows   map[string]gateway.Row
}

func (t *table) clone() *table {
	c := &table{
		schema: t.schema,
		order:  append([]string(nil), t.order...),
		rows:   make(map[string]gateway.Row, len(t.rows)),
	}
	for id, r := range t.rows {
		c.rows[id] = r.Clone()
	}
	return c
}

type Memory struct {
	mu     sync.RWMutex
	tables map[string]*table
}

// New creates an empty store with every table of gateway.Schema.
func New() *Memory {
	m := &Memory{tables: make(map[string]*table, len(gateway.Schema))}
	for name, s := range gateway.Schema {
		m.tables[name] = &table{schema: s, rows: make(map[string]gateway.Row)}
	}
	return m
}

func (m *Memory) Select(_ context.Context, name string, q gateway.Query) ([]gateway.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectLocked(name, q)
}

func (m *Memory) Insert(_ context.Context, name string, row gateway.Row) (gateway.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(name, row)
}

// InsertMany inserts all rows or none.
func (m *Memory) InsertMany(_ context.Context, name string, rows []gateway.Row) ([]gateway.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertManyLocked(name, rows)
}

func (m *Memory) Update(_ context.Context, name string, patch gateway.Row, filters ...gateway.Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(name, patch, filters)
}

func (m *Memory) Upsert(_ context.Context, name string, row gateway.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(name, row)
}

func (m *Memory) Count(_ context.Context, name string, filters ...gateway.Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(name, filters)
}

// Reset drops every row.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tables {
		t.order = nil
		t.rows = make(map[string]gateway.Row)
	}
}

// =============================================================================
// LOCKED OPERATIONS
// =============================================================================

func (m *Memory) table(name string) (*table, error) {
	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnknownTable, name)
	}
	return t, nil
}

func (m *Memory) selectLocked(name string, q gateway.Query) ([]gateway.Row, error) {
	t, err := m.table(name)
	if err != nil {
		return nil, err
	}
	var out []gateway.Row
	for _, id := range t.order {
		r := t.rows[id]
		if gateway.Matches(r, q.Filters...) {
			out = append(out, r.Clone())
		}
	}
	gateway.SortRows(out, q.OrderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) countLocked(name string, filters []gateway.Filter) (int, error) {
	t, err := m.table(name)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range t.rows {
		if gateway.Matches(r, filters...) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) insertLocked(name string, row gateway.Row) (gateway.Row, error) {
	t, err := m.table(name)
	if err != nil {
		return nil, err
	}
	r := normalizeRow(row)
	if r.ID() == "" {
		r["id"] = uuid.New().String()
	}
	if _, exists := t.rows[r.ID()]; exists {
		return nil, &gateway.UniqueViolationError{Table: name, Index: "PRIMARY"}
	}
	if err := t.checkUnique(r, ""); err != nil {
		return nil, err
	}
	t.rows[r.ID()] = r
	t.order = append(t.order, r.ID())
	return r.Clone(), nil
}

func (m *Memory) insertManyLocked(name string, rows []gateway.Row) ([]gateway.Row, error) {
	t, err := m.table(name)
	if err != nil {
		return nil, err
	}
	backup := t.clone()
	out := make([]gateway.Row, 0, len(rows))
	for _, row := range rows {
		r, err := m.insertLocked(name, row)
		if err != nil {
			m.tables[name] = backup
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) updateLocked(name string, patch gateway.Row, filters []gateway.Filter) (int64, error) {
	t, err := m.table(name)
	if err != nil {
		return 0, err
	}
	p := normalizeRow(patch)
	delete(p, "id")

	var matched []string
	for _, id := range t.order {
		if gateway.Matches(t.rows[id], filters...) {
			matched = append(matched, id)
		}
	}

	updated := make(map[string]gateway.Row, len(matched))
	for _, id := range matched {
		r := t.rows[id].Clone()
		for k, v := range p {
			r[k] = v
		}
		updated[id] = r
	}
	// Validate the post-image as a whole before touching anything.
	staged := t.clone()
	for id, r := range updated {
		staged.rows[id] = r
	}
	for id, r := range updated {
		if err := staged.checkUnique(r, id); err != nil {
			return 0, err
		}
	}
	for id, r := range updated {
		t.rows[id] = r
	}
	return int64(len(matched)), nil
}

func (m *Memory) upsertLocked(name string, row gateway.Row) error {
	t, err := m.table(name)
	if err != nil {
		return err
	}
	r := normalizeRow(row)
	if _, exists := t.rows[r.ID()]; !exists || r.ID() == "" {
		_, err := m.insertLocked(name, r)
		return err
	}
	if err := t.checkUnique(r, r.ID()); err != nil {
		return err
	}
	t.rows[r.ID()] = r
	return nil
}

// checkUnique rejects r if another row (other than selfID) shares a key on
// any unique index.
func (t *table) checkUnique(r gateway.Row, selfID string) error {
	for _, idx := range t.schema.Unique {
		key, ok := indexKey(r, idx)
		if !ok {
			continue
		}
		for id, other := range t.rows {
			if id == selfID || id == r.ID() {
				continue
			}
			if k, ok := indexKey(other, idx); ok && k == key {
				return &gateway.UniqueViolationError{Table: t.schema.Name, Index: idx.Name}
			}
		}
	}
	return nil
}

func indexKey(r gateway.Row, idx gateway.Index) (string, bool) {
	if idx.Partial != nil && !gateway.Matches(r, *idx.Partial) {
		return "", false
	}
	parts := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		if r.IsNull(c) {
			return "", false
		}
		parts[i] = r.String(c)
	}
	return strings.Join(parts, "\x00"), true
}

func normalizeRow(row gateway.Row) gateway.Row {
	out := make(gateway.Row, len(row))
	for k, v := range row {
		out[k] = gateway.Normalize(v)
	}
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) snapshot() map[string]*table {
	snap := make(map[string]*table, len(m.tables))
	for name, t := range m.tables {
		snap[name] = t.clone()
	}
	return snap
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store is write-locked for the whole duration of fn.
func (m *Memory) WithTx(ctx context.Context, fn func(gateway.Gateway) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.tables = snap
		return err
	}
	return nil
}

// txView gives fn access to the locked store.
type txView struct {
	parent *Memory
}

func (v *txView) Select(_ context.Context, name string, q gateway.Query) ([]gateway.Row, error) {
	return v.parent.selectLocked(name, q)
}

func (v *txView) Insert(_ context.Context, name string, row gateway.Row) (gateway.Row, error) {
	return v.parent.insertLocked(name, row)
}

func (v *txView) InsertMany(_ context.Context, name string, rows []gateway.Row) ([]gateway.Row, error) {
	return v.parent.insertManyLocked(name, rows)
}

func (v *txView) Update(_ context.Context, name string, patch gateway.Row, filters ...gateway.Filter) (int64, error) {
	return v.parent.updateLocked(name, patch, filters)
}

func (v *txView) Upsert(_ context.Context, name string, row gateway.Row) error {
	return v.parent.upsertLocked(name, row)
}

func (v *txView) Count(_ context.Context, name string, filters ...gateway.Filter) (int, error) {
	return v.parent.countLocked(name, filters)
}

var (
	_ gateway.TxGateway = (*Memory)(nil)
	_ gateway.Gateway   = (*txView)(nil)
)
