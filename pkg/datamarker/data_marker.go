// Package datamarker implements the replication-cycle filter described in
// spec §4.2: it tags every transaction with its originating node and
// drops events that would otherwise be shipped back into a node that
// already has them, breaking infinite propagation loops in multi-node
// replication topologies.
package datamarker

import (
	"strings"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
)

const dataOriginNodeCol = "data_origin_node"

// Config mirrors spec §4.2's configuration block.
type Config struct {
	TopoName     string
	TopoNodes    []string
	SrcNode      string
	DstNode      string
	DoNodes      []string
	IgnoreNodes  []string
	MarkerSchema string // rdb: marker_schema.marker_tb
	MarkerTb     string
	MarkerKey    string // redis: marker key
}

// DataMarker holds the per-task runtime state: the current transaction's
// data-origin label and whether it should be filtered.
type DataMarker struct {
	cfg Config

	doNodes     map[string]struct{}
	ignoreNodes map[string]struct{}

	dataOriginNode string
	filter         bool
}

// New validates cfg and builds a DataMarker reset to its default state
// (data_origin_node = src_node). The marker identifier must be in
// "schema.tb" form for rdb/mongo sources; that is the only way
// misconfiguration is fatal per spec §4.2's failure policy — runtime
// absence of a marker row is not an error.
func New(cfg Config, isRedis bool) (*DataMarker, error) {
	if !isRedis {
		if cfg.MarkerSchema == "" || cfg.MarkerTb == "" {
			return nil, dtserr.New(dtserr.KindConfig,
				"data marker identifier must be in schema.tb form, got schema=%q tb=%q",
				cfg.MarkerSchema, cfg.MarkerTb)
		}
	} else if cfg.MarkerKey == "" {
		return nil, dtserr.New(dtserr.KindConfig, "data marker key must not be empty for a redis source")
	}

	m := &DataMarker{
		cfg:         cfg,
		doNodes:     toSet(cfg.DoNodes),
		ignoreNodes: toSet(cfg.IgnoreNodes),
	}
	m.Reset()
	return m, nil
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}

// Reset is called at transaction boundaries (spec §4.2 "Reset happens at
// transaction boundaries"): it restores the default origin (src_node)
// and clears any filter decision made for the previous transaction.
func (m *DataMarker) Reset() {
	m.dataOriginNode = m.cfg.SrcNode
	m.filter = false
}

// IsMarkerEvent reports whether e is the dedicated marker row/key this
// task watches for (spec §4.2).
func (m *DataMarker) IsMarkerEvent(e *dtmeta.Event) bool {
	switch e.Kind {
	case dtmeta.EventDml:
		if e.Row == nil {
			return false
		}
		return e.Row.Schema == m.cfg.MarkerSchema && e.Row.Tb == m.cfg.MarkerTb
	case dtmeta.EventRedis:
		if e.Redis == nil {
			return false
		}
		key := e.Redis.Key
		if !e.Redis.IsRaw && len(e.Redis.Args) > 1 {
			key = e.Redis.Args[1]
		}
		return key == m.cfg.MarkerKey || strings.HasPrefix(key, m.cfg.MarkerKey+"{")
	default:
		return false
	}
}

// Refresh updates data_origin_node from a marker event's payload and
// recomputes the filter decision (spec §4.2). Call only when
// IsMarkerEvent(e) is true.
func (m *DataMarker) Refresh(e *dtmeta.Event) {
	switch e.Kind {
	case dtmeta.EventDml:
		if e.Row != nil && e.Row.After != nil {
			if v, ok := e.Row.After[dataOriginNodeCol]; ok && !v.IsNull() {
				m.dataOriginNode = v.String()
			}
		}
	case dtmeta.EventRedis:
		if e.Redis != nil && len(e.Redis.Args) > 2 {
			m.dataOriginNode = e.Redis.Args[2]
		}
	}

	_, inIgnore := m.ignoreNodes[m.dataOriginNode]
	_, inDo := m.doNodes[m.dataOriginNode]
	m.filter = inIgnore || !inDo
}

// Apply processes one item against the marker state: it resets state on
// transaction boundaries, refreshes on a marker event, and reports
// (originNode, drop) for the caller to act on. Marker rows themselves are
// always dropped (spec §4.2 "marker rows themselves are always dropped").
func (m *DataMarker) Apply(it *dtmeta.Item) (originNode string, drop bool) {
	switch it.Event.Kind {
	case dtmeta.EventBegin:
		m.Reset()
		return m.dataOriginNode, false
	case dtmeta.EventCommit:
		origin, drop := m.dataOriginNode, m.filter
		return origin, drop
	}

	if m.IsMarkerEvent(it.Event) {
		m.Refresh(it.Event)
		return m.dataOriginNode, true
	}

	return m.dataOriginNode, m.filter
}

// DataOriginNode returns the current transaction's origin label.
func (m *DataMarker) DataOriginNode() string { return m.dataOriginNode }

// Filter reports the current drop decision for non-marker events (spec
// §3 invariant: dropped iff data_origin_node not in do_nodes or in
// ignore_nodes).
func (m *DataMarker) Filter() bool { return m.filter }
