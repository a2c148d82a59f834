package util

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/common"
	"github.com/ValentinKolb/dPersist/lib/store"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("line longer than %d: %q", Wrap, line)
		}
	}
}

func TestParseVersion(t *testing.T) {
	tests := map[string]store.Version{"": store.NoVersion, "absent": store.NoVersion, "0": 0, "v12": 12, "42": 42}
	for in, want := range tests {
		got, err := ParseVersion(in)
		if err != nil || got != want {
			t.Errorf("ParseVersion(%q) = %v, %v", in, got, err)
		}
	}
	for _, in := range []string{"12abc", "-1", "x"} {
		if _, err := ParseVersion(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got, _ := ParseTime("5m", now); !got.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("relative time: %v", got)
	}
	if got, _ := ParseTime("2024-02-01T10:00:00Z", now); got.Month() != time.February {
		t.Errorf("absolute time: %v", got)
	}
	if _, err := ParseTime("tomorrow", now); err == nil {
		t.Error("expected error")
	}
}

// TestMapleSnapshotPersists checks that a maple store survives being closed and reopened
func TestMapleSnapshotPersists(t *testing.T) {
	conf := &common.StoreConfig{Engine: common.EngineMaple, DataDir: t.TempDir(), ServiceID: "svc"}
	ctx := context.Background()

	ls, err := OpenLocalStore(conf)
	if err != nil {
		t.Fatal(err)
	}
	v, err := ls.Store(ctx, "State/svc.e.T", store.Document{Collection: "State", Value: []byte("x")}, store.IfAbsent())
	if err != nil {
		t.Fatal(err)
	}
	if err := ls.Close(); err != nil {
		t.Fatal(err)
	}

	ls, err = OpenLocalStore(conf)
	if err != nil {
		t.Fatal(err)
	}
	defer ls.Close()
	rec, ok, err := ls.Load(ctx, "State/svc.e.T")
	if err != nil || !ok {
		t.Fatalf("record lost: ok=%v err=%v", ok, err)
	}
	if rec.Version != v || string(rec.Doc.Value) != "x" {
		t.Errorf("unexpected record %+v", rec)
	}

	// versions continue after the restored index
	next, err := ls.Store(ctx, "State/svc.e.T", rec.Doc, store.IfVersion(v))
	if err != nil || next <= v {
		t.Errorf("next version %v (err %v) after %v", next, err, v)
	}
}
