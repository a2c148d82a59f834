package dstore

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/maple"
	"github.com/ValentinKolb/dPersist/lib/store"
	"github.com/ValentinKolb/dPersist/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

func newTestMachine(t *testing.T) sm.IConcurrentStateMachine {
	factory := CreateStateMachineFactory(func() (db.KVDB, error) {
		return maple.NewMapleDB(nil), nil
	})
	fsm := factory(1, 1)
	t.Cleanup(func() { fsm.Close() })
	return fsm
}

func entry(t *testing.T, index uint64, cmd internal.Command) sm.Entry {
	data, err := cmd.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return sm.Entry{Index: index, Cmd: data}
}

func number(t *testing.T, res sm.Result) uint64 {
	n, err := internal.DecodeNumber(res.Data)
	if err != nil {
		t.Fatalf("unexpected result data %q: %v", res.Data, err)
	}
	return n
}

func TestUpdateUsesLogIndexAsVersion(t *testing.T) {
	fsm := newTestMachine(t)

	doc := db.Document{Collection: "State", Value: []byte("v")}
	entries, err := fsm.Update([]sm.Entry{
		entry(t, 10, internal.Command{Type: internal.CommandTPut, Cond: db.IfAbsent(), Key: "k", Doc: doc}),
		entry(t, 11, internal.Command{Type: internal.CommandTPut, Cond: db.IfAbsent(), Key: "k", Doc: doc}),
		entry(t, 12, internal.Command{Type: internal.CommandTPut, Cond: db.IfVersion(10), Key: "k", Doc: doc}),
	})
	if err != nil {
		t.Fatal(err)
	}

	if entries[0].Result.Value != uint64(store.RetCSuccess) || number(t, entries[0].Result) != 10 {
		t.Errorf("first put: unexpected result %+v", entries[0].Result)
	}
	if entries[1].Result.Value != uint64(store.RetCConflict) || number(t, entries[1].Result) != 10 {
		t.Errorf("second put should conflict with current version 10: %+v", entries[1].Result)
	}
	if entries[2].Result.Value != uint64(store.RetCSuccess) || number(t, entries[2].Result) != 12 {
		t.Errorf("conditional put: unexpected result %+v", entries[2].Result)
	}

	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTGet, Key: "k"})
	if err != nil {
		t.Fatal(err)
	}
	get := res.(internal.GetResult)
	if !get.Ok || get.Entry.Version != 12 {
		t.Errorf("unexpected lookup result %+v", get)
	}
}

func TestUpdateDelete(t *testing.T) {
	fsm := newTestMachine(t)

	entries, _ := fsm.Update([]sm.Entry{
		entry(t, 1, internal.Command{Type: internal.CommandTDelete, Cond: db.Always(), Key: "missing"}),
		entry(t, 2, internal.Command{Type: internal.CommandTDelete, Cond: db.IfVersion(1), Key: "missing"}),
		entry(t, 3, internal.Command{Type: internal.CommandTPut, Key: "k", Doc: db.Document{Collection: "c"}}),
		entry(t, 4, internal.Command{Type: internal.CommandTDelete, Cond: db.IfVersion(2), Key: "k"}),
		entry(t, 5, internal.Command{Type: internal.CommandTDelete, Cond: db.IfVersion(3), Key: "k"}),
	})

	want := []store.RetCode{store.RetCSuccess, store.RetCConflict, store.RetCSuccess, store.RetCConflict, store.RetCSuccess}
	for i, code := range want {
		if entries[i].Result.Value != uint64(code) {
			t.Errorf("entry %d: got code %s, want %s", i, store.RetCode(entries[i].Result.Value), code)
		}
	}
	if number(t, entries[1].Result) != 0 {
		t.Errorf("conflict on missing key should report version 0")
	}
}

func TestUpdateInvalidCommands(t *testing.T) {
	fsm := newTestMachine(t)

	entries, err := fsm.Update([]sm.Entry{
		{Index: 1, Cmd: nil},
		{Index: 2, Cmd: []byte{1, 2}},
		entry(t, 3, internal.Command{Type: internal.CommandType(42), Key: "k"}),
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []store.RetCode{store.RetCInvalidOperation, store.RetCInternalError, store.RetCInvalidOperation}
	for i, code := range want {
		if entries[i].Result.Value != uint64(code) {
			t.Errorf("entry %d: got code %s, want %s", i, store.RetCode(entries[i].Result.Value), code)
		}
	}
}

func TestLookupFind(t *testing.T) {
	fsm := newTestMachine(t)

	var batch []sm.Entry
	for i := uint64(1); i <= 10; i++ {
		batch = append(batch, entry(t, i, internal.Command{
			Type: internal.CommandTPut,
			Key:  string(rune('a' + i)),
			Doc:  db.Document{Collection: "Timers", Rank: i * 100, Attrs: map[string]string{"service": "svc"}},
		}))
	}
	batch = append(batch, entry(t, 11, internal.Command{Type: internal.CommandTDeleteCollection, Key: "Other"}))
	entries, _ := fsm.Update(batch)
	if n := number(t, entries[10].Result); n != 0 {
		t.Errorf("deleting an empty collection removed %d entries", n)
	}

	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTFind, Match: db.Query{
		Collection: "Timers",
		Equals:     map[string]string{"service": "svc"},
		Ranks:      []db.RankRange{{Min: 250, Max: 500}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	found := res.([]db.Entry)
	if len(found) != 3 || found[0].Doc.Rank != 300 {
		t.Errorf("unexpected find result %+v", found)
	}

	if _, err := fsm.Lookup("not a query"); err == nil {
		t.Errorf("expected error for invalid query type")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	source := newTestMachine(t)
	source.Update([]sm.Entry{
		entry(t, 7, internal.Command{Type: internal.CommandTPut, Key: "k", Doc: db.Document{Collection: "c", Value: []byte("v")}}),
	})

	var buf bytes.Buffer
	if err := source.SaveSnapshot(nil, &buf, nil, nil); err != nil {
		t.Fatal(err)
	}

	target := newTestMachine(t)
	if err := target.RecoverFromSnapshot(&buf, nil, nil); err != nil {
		t.Fatal(err)
	}

	res, _ := target.Lookup(internal.Query{Type: internal.QueryTGet, Key: "k"})
	get := res.(internal.GetResult)
	if !get.Ok || get.Entry.Version != 7 || string(get.Entry.Doc.Value) != "v" {
		t.Errorf("snapshot not restored: %+v", get)
	}
}
