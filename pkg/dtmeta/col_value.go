package dtmeta

import (
	"fmt"
	"hash/fnv"
)

// ColKind tags the primitive/date/binary/json/geo variants carried by a
// ColValue across every supported source (mysql/pg/mongo/redis).
type ColKind int

const (
	ColNone ColKind = iota
	ColBool
	ColTinyInt
	ColSmallInt
	ColInt
	ColBigInt
	ColFloat
	ColDouble
	ColDecimal
	ColTime
	ColDate
	ColDateTime
	ColTimestamp
	ColYear
	ColString
	ColBlob
	ColBit
	ColSet
	ColEnum
	ColJSON
	ColGeometry
)

// ColValue is a tagged union over a column's value. Only one of the
// typed fields is meaningful for a given Kind; Str is used for every
// variant that has a natural textual rendering (decimal/time/date/...),
// the others hold their native Go type to avoid string round-trips on
// the hot comparison path (partitioner guard, merger hashing).
type ColValue struct {
	Kind ColKind
	I64  int64
	U64  uint64
	F64  float64
	Str  string
	Bin  []byte
	Bool bool
}

// NewNull returns the ColValue that represents SQL NULL / absent value.
func NewNull() ColValue { return ColValue{Kind: ColNone} }

func NewString(s string) ColValue { return ColValue{Kind: ColString, Str: s} }
func NewInt(v int64) ColValue     { return ColValue{Kind: ColInt, I64: v} }
func NewBigInt(v int64) ColValue  { return ColValue{Kind: ColBigInt, I64: v} }
func NewDouble(v float64) ColValue {
	return ColValue{Kind: ColDouble, F64: v}
}
func NewBlob(b []byte) ColValue { return ColValue{Kind: ColBlob, Bin: b} }
func NewBool(b bool) ColValue   { return ColValue{Kind: ColBool, Bool: b} }

// IsNull reports whether this value represents SQL/Mongo/Redis NULL.
func (c ColValue) IsNull() bool { return c.Kind == ColNone }

// String renders the value's textual form, or "<nil>" for ColNone. This
// mirrors ape-dts's ColValue::to_string, used both for logging and as the
// hash input below.
func (c ColValue) String() string {
	switch c.Kind {
	case ColNone:
		return "<nil>"
	case ColBool:
		return fmt.Sprintf("%t", c.Bool)
	case ColTinyInt, ColSmallInt, ColInt, ColBigInt, ColYear:
		return fmt.Sprintf("%d", c.I64)
	case ColFloat, ColDouble:
		return fmt.Sprintf("%v", c.F64)
	case ColBit, ColSet:
		return fmt.Sprintf("%d", c.U64)
	case ColBlob, ColJSON:
		return fmt.Sprintf("%x", c.Bin)
	default:
		// Decimal, Time, Date, DateTime, Timestamp, String, Enum, Geometry
		// all carry their natural textual form directly.
		return c.Str
	}
}

// HashCode returns a stable hash of the value, with the special rule
// (spec §3 invariants) that a NULL value always hashes to 0: a row whose
// identity columns include a NULL is never collapsed by the merger.
func (c ColValue) HashCode() uint64 {
	if c.IsNull() {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(c.String()))
	sum := h.Sum64()
	if sum == 0 {
		// avoid accidentally colliding with the NULL sentinel
		sum = 1
	}
	return sum
}

// Equal compares two ColValues by kind-aware value, matching the
// partitioner guard's "did this key column change" check (it must treat
// two NULLs as equal and a NULL vs non-NULL as different).
func (c ColValue) Equal(other ColValue) bool {
	if c.IsNull() || other.IsNull() {
		return c.IsNull() == other.IsNull()
	}
	return c.String() == other.String()
}
