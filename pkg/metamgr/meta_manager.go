// Package metamgr implements the per-engine table-meta cache (spec §4.3):
// GetTbMeta resolves and caches a TableMeta on first lookup; Invalidate
// drops an entry synchronously when a DDL event touches it, before the
// parallelizer dispatches any subsequent event for that table.
package metamgr

import (
	"context"
	"sync"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
)

// Resolver issues the metadata query against the source (information_schema
// for mysql-like engines, pg_catalog for postgres, ...) and returns a
// TableMeta with Columns/KeyMap populated; ResolveIdentity is applied by
// the MetaManager after a successful resolve.
type Resolver interface {
	ResolveTableMeta(ctx context.Context, schema, tb string) (*dtmeta.TableMeta, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(ctx context.Context, schema, tb string) (*dtmeta.TableMeta, error)

func (f ResolverFunc) ResolveTableMeta(ctx context.Context, schema, tb string) (*dtmeta.TableMeta, error) {
	return f(ctx, schema, tb)
}

// MetaManager is a read-mostly cache guarded by a RWMutex: readers (the
// partitioner/merger's hot path) take a read lock; DDL invalidation takes
// a write lock (spec §5 "Meta cache — guarded per-engine").
type MetaManager struct {
	mu       sync.RWMutex
	cache    map[string]*dtmeta.TableMeta
	resolver Resolver
}

func New(resolver Resolver) *MetaManager {
	return &MetaManager{cache: make(map[string]*dtmeta.TableMeta), resolver: resolver}
}

func key(schema, tb string) string { return schema + "." + tb }

// GetTbMeta returns the cached TableMeta for (schema, tb), resolving and
// caching it on a miss.
func (m *MetaManager) GetTbMeta(ctx context.Context, schema, tb string) (*dtmeta.TableMeta, error) {
	k := key(schema, tb)

	m.mu.RLock()
	if meta, ok := m.cache[k]; ok {
		m.mu.RUnlock()
		return meta, nil
	}
	m.mu.RUnlock()

	meta, err := m.resolver.ResolveTableMeta(ctx, schema, tb)
	if err != nil {
		return nil, dtserr.Wrap(dtserr.KindMetadata, err, "resolve table meta for %s", k)
	}
	meta.ResolveIdentity()

	m.mu.Lock()
	// another goroutine may have resolved it concurrently; last writer
	// wins, both results are equivalent for a given schema snapshot.
	m.cache[k] = meta
	m.mu.Unlock()

	return meta, nil
}

// Invalidate drops the cached entry for (schema, tb). Call this
// synchronously before dispatching any event that follows a DDL
// affecting that table (spec §4.3).
func (m *MetaManager) Invalidate(schema, tb string) {
	m.mu.Lock()
	delete(m.cache, key(schema, tb))
	m.mu.Unlock()
}

// InvalidateDDL is a convenience wrapper matching the shape dispatched
// by the pipeline: given a dtmeta.DdlData, invalidate its (schema, tb).
func (m *MetaManager) InvalidateDDL(ddl *dtmeta.DdlData) {
	if ddl == nil {
		return
	}
	m.Invalidate(ddl.Schema, ddl.Tb)
}

// IDColsResolver adapts GetTbMeta to merger.IDColsResolver.
func (m *MetaManager) IDColsResolver(ctx context.Context) func(schema, tb string) ([]string, error) {
	return func(schema, tb string) ([]string, error) {
		meta, err := m.GetTbMeta(ctx, schema, tb)
		if err != nil {
			return nil, err
		}
		return meta.IDCols, nil
	}
}

// Lookup adapts GetTbMeta to partitioner.TableMetaLookup.
func (m *MetaManager) Lookup(ctx context.Context) func(schema, tb string) (*dtmeta.TableMeta, error) {
	return func(schema, tb string) (*dtmeta.TableMeta, error) {
		return m.GetTbMeta(ctx, schema, tb)
	}
}
