package db

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// --------------------------------------------------------------------------
// Documents and Entries
// --------------------------------------------------------------------------

// Document is the unit stored under a key. Value is opaque to the database,
// Collection, Attrs and Rank are indexed and can be filtered on with Find.
type Document struct {
	Collection string
	Attrs      map[string]string
	Rank       uint64
	Value      []byte
}

// Clone returns a deep copy of the document
func (d Document) Clone() Document {
	c := Document{
		Collection: d.Collection,
		Rank:       d.Rank,
	}
	if d.Attrs != nil {
		c.Attrs = make(map[string]string, len(d.Attrs))
		for k, v := range d.Attrs {
			c.Attrs[k] = v
		}
	}
	if d.Value != nil {
		c.Value = make([]byte, len(d.Value))
		copy(c.Value, d.Value)
	}
	return c
}

// Entry is a stored document together with its key and version (the write
// index of the mutation that produced it).
type Entry struct {
	Key     string
	Doc     Document
	Version uint64
}

// --------------------------------------------------------------------------
// Conditions
// --------------------------------------------------------------------------

type ConditionKind uint8

const (
	CondAlways    ConditionKind = iota // no precondition
	CondIfAbsent                       // the key must not exist
	CondIfVersion                      // the key must exist with exactly the given version
)

func (k ConditionKind) String() string {
	switch k {
	case CondAlways:
		return "Always"
	case CondIfAbsent:
		return "IfAbsent"
	case CondIfVersion:
		return "IfVersion"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Condition guards a write. The zero value is CondAlways.
type Condition struct {
	Kind    ConditionKind
	Version uint64
}

// Always returns a condition that always holds.
func Always() Condition { return Condition{Kind: CondAlways} }

// IfAbsent returns a condition that holds only if the key does not exist.
func IfAbsent() Condition { return Condition{Kind: CondIfAbsent} }

// IfVersion returns a condition that holds only if the key exists with version v.
func IfVersion(v uint64) Condition { return Condition{Kind: CondIfVersion, Version: v} }

// Holds evaluates the condition against the current state of a key
func (c Condition) Holds(current uint64, exists bool) bool {
	switch c.Kind {
	case CondAlways:
		return true
	case CondIfAbsent:
		return !exists
	case CondIfVersion:
		return exists && current == c.Version
	default:
		return false
	}
}

// WriteResult is returned by conditional writes.
//   - Applied: whether the write took effect
//   - Version: the version of the entry after an applied Put (the write index)
//   - Current: the version found when the condition was evaluated (0 = absent)
type WriteResult struct {
	Applied bool
	Version uint64
	Current uint64
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// RankRange is an inclusive range [Min, Max] over Document.Rank
type RankRange struct {
	Min uint64
	Max uint64
}

// Contains reports whether rank lies in the range
func (r RankRange) Contains(rank uint64) bool {
	return rank >= r.Min && rank <= r.Max
}

// Query selects entries of one collection. An entry matches if every Equals
// attribute is present with the given value and, if Ranks is not empty, its
// rank lies in at least one of the ranges.
type Query struct {
	Collection string
	Equals     map[string]string
	Ranks      []RankRange
}

// Matches reports whether the entry satisfies q
func (q Query) Matches(e Entry) bool {
	if e.Doc.Collection != q.Collection {
		return false
	}
	for name, want := range q.Equals {
		if got, ok := e.Doc.Attrs[name]; !ok || got != want {
			return false
		}
	}
	return q.MatchesRank(e.Doc.Rank)
}

// MatchesRank reports whether rank satisfies the rank ranges of q
func (q Query) MatchesRank(rank uint64) bool {
	if len(q.Ranks) == 0 {
		return true
	}
	for _, r := range q.Ranks {
		if r.Contains(rank) {
			return true
		}
	}
	return false
}

// MaxRank returns the highest rank any matching entry can have
func (q Query) MaxRank() uint64 {
	if len(q.Ranks) == 0 {
		return ^uint64(0)
	}
	var m uint64
	for _, r := range q.Ranks {
		if r.Max > m {
			m = r.Max
		}
	}
	return m
}

// SortEntries orders entries by (Rank, Key)
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Doc.Rank != entries[j].Doc.Rank {
			return entries[i].Doc.Rank < entries[j].Doc.Rank
		}
		return entries[i].Key < entries[j].Key
	})
}

// --------------------------------------------------------------------------
// Binary encoding
// --------------------------------------------------------------------------

// MarshalBinary encodes the document with the format:
// 4 bytes collection length, N bytes collection,
// 8 bytes rank,
// 4 bytes attribute count, per attribute (sorted by name): 4 bytes name length, name, 4 bytes value length, value,
// 4 bytes value length, N bytes value.
// All integers are big endian.
func (d Document) MarshalBinary() ([]byte, error) {
	names := make([]string, 0, len(d.Attrs))
	size := 4 + len(d.Collection) + 8 + 4 + 4 + len(d.Value)
	for name, value := range d.Attrs {
		names = append(names, name)
		size += 8 + len(name) + len(value)
	}
	sort.Strings(names)

	buf := make([]byte, 0, size)
	buf = appendString(buf, d.Collection)
	buf = binary.BigEndian.AppendUint64(buf, d.Rank)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(names)))
	for _, name := range names {
		buf = appendString(buf, name)
		buf = appendString(buf, d.Attrs[name])
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(d.Value)))
	buf = append(buf, d.Value...)
	return buf, nil
}

// UnmarshalBinary decodes a document encoded with MarshalBinary
func (d *Document) UnmarshalBinary(data []byte) error {
	r := byteReader{data: data}

	d.Collection = r.string()
	d.Rank = r.uint64()
	count := r.uint32()
	d.Attrs = nil
	if count > 0 && r.err == nil {
		d.Attrs = make(map[string]string, count)
		for i := uint32(0); i < count && r.err == nil; i++ {
			name := r.string()
			d.Attrs[name] = r.string()
		}
	}
	d.Value = r.bytes()

	if r.err != nil {
		return fmt.Errorf("decode document: %w", r.err)
	}
	if r.pos != len(data) {
		return fmt.Errorf("decode document: %d trailing bytes", len(data)-r.pos)
	}
	return nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// byteReader reads length-prefixed big endian fields and remembers the first error
type byteReader struct {
	data []byte
	pos  int
	err  error
}

func (r *byteReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.pos < n {
		r.err = fmt.Errorf("data too short: need %d bytes at offset %d, have %d", n, r.pos, len(r.data)-r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *byteReader) uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *byteReader) uint64() uint64 {
	if b := r.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *byteReader) string() string {
	return string(r.take(int(r.uint32())))
}

func (r *byteReader) bytes() []byte {
	n := int(r.uint32())
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
