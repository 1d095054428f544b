package dtmeta

// ColumnDef describes one column's name and source-engine type string
// (left opaque here; per-engine meta managers fill in the dialect's own
// type names such as "varchar(64)" or "numeric(10,2)").
type ColumnDef struct {
	Name   string
	SrcTyp string
}

// TableMeta is the lazily-resolved, cached description of a table used
// by the partitioner, merger and snapshot paging (spec §3).
type TableMeta struct {
	Schema string
	Tb     string

	// Columns is the ordered column list as reported by the source.
	Columns []ColumnDef

	// KeyMap maps a key name ("primary", "uk_1", ...) to its ordered
	// column list, as resolved from information_schema/pg_catalog.
	KeyMap map[string][]string

	// IDCols is the chosen identity: the primary key if present, else
	// the shortest unique key, else all columns.
	IDCols []string

	// OrderCol is the single column used to paginate snapshot scans;
	// set iff len(IDCols) == 1.
	OrderCol string

	// PartitionCol is IDCols[0], the sole hash input for the partitioner.
	PartitionCol string
}

// ResolveIdentity computes IDCols/OrderCol/PartitionCol from KeyMap and
// the full column list, per spec §3: primary key first, else the
// shortest unique key, else every column.
func (m *TableMeta) ResolveIdentity() {
	if pk, ok := m.KeyMap["primary"]; ok && len(pk) > 0 {
		m.IDCols = append([]string(nil), pk...)
	} else {
		var shortest []string
		for name, cols := range m.KeyMap {
			if name == "primary" {
				continue
			}
			if shortest == nil || len(cols) < len(shortest) {
				shortest = cols
			}
		}
		if shortest != nil {
			m.IDCols = append([]string(nil), shortest...)
		} else {
			all := make([]string, 0, len(m.Columns))
			for _, c := range m.Columns {
				all = append(all, c.Name)
			}
			m.IDCols = all
		}
	}

	if len(m.IDCols) == 1 {
		m.OrderCol = m.IDCols[0]
	} else {
		m.OrderCol = ""
	}

	if len(m.IDCols) > 0 {
		m.PartitionCol = m.IDCols[0]
	}
}

// FullName returns the "schema.tb" qualified name used as meta-cache key
// and check-log grouping key.
func (m *TableMeta) FullName() string {
	return m.Schema + "." + m.Tb
}
