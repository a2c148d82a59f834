package db

import (
	"bytes"
	"testing"
)

func TestDocumentBinaryEncoding(t *testing.T) {
	doc := Document{
		Collection: "Timers",
		Attrs:      map[string]string{"service": "svc", "owner": "o/1"},
		Rank:       4242,
		Value:      []byte(`{"period":"1m0s"}`),
	}

	data, err := doc.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	var decoded Document
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}

	if decoded.Collection != doc.Collection || decoded.Rank != doc.Rank {
		t.Errorf("header mismatch: got %+v", decoded)
	}
	if len(decoded.Attrs) != 2 || decoded.Attrs["owner"] != "o/1" || decoded.Attrs["service"] != "svc" {
		t.Errorf("attribute mismatch: got %v", decoded.Attrs)
	}
	if !bytes.Equal(decoded.Value, doc.Value) {
		t.Errorf("value mismatch: got %s", decoded.Value)
	}

	// the encoding is deterministic regardless of map iteration order
	again, _ := doc.MarshalBinary()
	if !bytes.Equal(data, again) {
		t.Errorf("encoding is not deterministic")
	}
}

func TestDocumentUnmarshalTruncated(t *testing.T) {
	doc := Document{Collection: "c", Attrs: map[string]string{"a": "b"}, Value: []byte("value")}
	data, _ := doc.MarshalBinary()

	for _, n := range []int{0, 3, 10, len(data) - 1} {
		var d Document
		if err := d.UnmarshalBinary(data[:n]); err == nil {
			t.Errorf("expected error for %d of %d bytes", n, len(data))
		}
	}

	var d Document
	if err := d.UnmarshalBinary(append(data, 0)); err == nil {
		t.Errorf("expected error for trailing bytes")
	}
}

func TestConditionHolds(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		current uint64
		exists  bool
		want    bool
	}{
		{"always on missing", Always(), 0, false, true},
		{"always on existing", Always(), 7, true, true},
		{"absent on missing", IfAbsent(), 0, false, true},
		{"absent on existing", IfAbsent(), 7, true, false},
		{"version match", IfVersion(7), 7, true, true},
		{"version mismatch", IfVersion(6), 7, true, false},
		{"version on missing", IfVersion(7), 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Holds(tt.current, tt.exists); got != tt.want {
				t.Errorf("Holds(%d, %v) = %v, want %v", tt.current, tt.exists, got, tt.want)
			}
		})
	}
}

func TestQueryMatches(t *testing.T) {
	entry := Entry{Key: "k", Doc: Document{
		Collection: "Timers",
		Attrs:      map[string]string{"service": "svc", "owner": "o1"},
		Rank:       100,
	}}

	tests := []struct {
		name  string
		query Query
		want  bool
	}{
		{"collection only", Query{Collection: "Timers"}, true},
		{"other collection", Query{Collection: "State"}, false},
		{"equality", Query{Collection: "Timers", Equals: map[string]string{"service": "svc"}}, true},
		{"equality mismatch", Query{Collection: "Timers", Equals: map[string]string{"service": "other"}}, false},
		{"missing attribute", Query{Collection: "Timers", Equals: map[string]string{"cluster": "c"}}, false},
		{"rank inside", Query{Collection: "Timers", Ranks: []RankRange{{Min: 100, Max: 100}}}, true},
		{"rank outside", Query{Collection: "Timers", Ranks: []RankRange{{Min: 0, Max: 99}}}, false},
		{"rank union", Query{Collection: "Timers", Ranks: []RankRange{{Min: 0, Max: 1}, {Min: 50, Max: 150}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.query.Matches(entry); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	entries := []Entry{
		{Key: "a", Version: 3, Doc: Document{Collection: "c", Rank: 1, Value: []byte("1")}},
		{Key: "b", Version: 9, Doc: Document{Collection: "c", Attrs: map[string]string{"x": "y"}, Value: []byte("2")}},
	}

	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, 5, entries); err != nil {
		t.Fatal(err)
	}

	var loaded []Entry
	idx, err := ReadSnapshot(&buf, func(e Entry) error {
		loaded = append(loaded, e)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// the index is raised to the highest entry version
	if idx != 9 {
		t.Errorf("write index = %d, want 9", idx)
	}
	if len(loaded) != 2 || loaded[1].Key != "b" || loaded[1].Doc.Attrs["x"] != "y" {
		t.Errorf("unexpected entries %+v", loaded)
	}

	if _, err := ReadSnapshot(bytes.NewReader([]byte("NOTASNAPSHOT")), func(Entry) error { return nil }); err == nil {
		t.Errorf("expected error for invalid magic")
	}
}
