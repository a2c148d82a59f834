package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dPersist/lib/common"
	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/maple"
	"github.com/ValentinKolb/dPersist/lib/db/engines/sqlite"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/ValentinKolb/dPersist/lib/store"
	"github.com/ValentinKolb/dPersist/lib/store/lstore"
	"github.com/ValentinKolb/dPersist/lib/timers"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	snapshotFile = "maple.snapshot"
	sqliteFile   = "dpersist.db"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and environment variables (DPERSIST_<FLAG>)
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dpersist")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// SetupStoreFlags adds the flags describing the local store and the scope
func SetupStoreFlags(cmd *cobra.Command) {
	key := "engine"
	cmd.PersistentFlags().String(key, "maple", WrapString("Document engine to use (maple, sqlite). The maple engine keeps a snapshot file in the data directory between invocations"))

	key = "data-dir"
	cmd.PersistentFlags().String(key, "data", WrapString("Directory of the database or snapshot file"))

	key = "service"
	cmd.PersistentFlags().String(key, "default", WrapString("Service id all state and timers are scoped to"))

	key = "cluster"
	cmd.PersistentFlags().String(key, "local", WrapString("Cluster id recorded on timers"))

	key = "state-prefix"
	cmd.PersistentFlags().String(key, state.DefaultPrefix, WrapString("Key prefix of state records"))

	key = "timer-prefix"
	cmd.PersistentFlags().String(key, timers.DefaultPrefix, WrapString("Key prefix of timer entries"))

	key = "wait-for-non-stale"
	cmd.PersistentFlags().Duration(key, 0, WrapString("How long timer queries wait for up to date results (only relevant for replicated stores)"))
}

// GetStoreConfig reads the store configuration from viper
func GetStoreConfig() (*common.StoreConfig, error) {
	engine, err := common.ParseEngine(viper.GetString("engine"))
	if err != nil {
		return nil, err
	}
	conf := &common.StoreConfig{
		Engine:          engine,
		DataDir:         viper.GetString("data-dir"),
		ServiceID:       viper.GetString("service"),
		ClusterID:       viper.GetString("cluster"),
		StatePrefix:     viper.GetString("state-prefix"),
		TimerPrefix:     viper.GetString("timer-prefix"),
		WaitForNonStale: viper.GetDuration("wait-for-non-stale"),
	}
	if conf.ServiceID == "" {
		return nil, errors.New("service id must not be empty")
	}
	return conf, nil
}

// DBFactory returns a factory for the configured engine. Every call of the
// factory opens a fresh database below dir.
func DBFactory(conf *common.StoreConfig, dir string) store.DBFactory {
	switch conf.Engine {
	case common.EngineSQLite:
		return func() (db.KVDB, error) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
			return sqlite.NewSQLiteDB(&sqlite.DBOptions{Path: filepath.Join(dir, sqliteFile)})
		}
	default:
		return func() (db.KVDB, error) { return maple.NewMapleDB(nil), nil }
	}
}

// --------------------------------------------------------------------------
// Local store
// --------------------------------------------------------------------------

// LocalStore is a single node store opened by a command. A maple backed store
// is restored from and written back to a snapshot file.
type LocalStore struct {
	store.IStore
	kvdb     db.KVDB
	snapshot string
}

// OpenLocalStore opens the store described by conf
func OpenLocalStore(conf *common.StoreConfig) (*LocalStore, error) {
	kvdb, err := DBFactory(conf, conf.DataDir)()
	if err != nil {
		return nil, fmt.Errorf("open %s engine: %w", conf.Engine, err)
	}

	ls := &LocalStore{kvdb: kvdb}
	if conf.Engine == common.EngineMaple {
		ls.snapshot = filepath.Join(conf.DataDir, snapshotFile)
		if err := ls.restore(); err != nil {
			_ = kvdb.Close()
			return nil, err
		}
	}

	ls.IStore, err = lstore.NewLocalStore(func() (db.KVDB, error) { return kvdb, nil })
	if err != nil {
		_ = kvdb.Close()
		return nil, err
	}
	return ls, nil
}

func (ls *LocalStore) restore() error {
	f, err := os.Open(ls.snapshot)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	if err := ls.kvdb.Load(f); err != nil {
		return fmt.Errorf("restore %s: %w", ls.snapshot, err)
	}
	return nil
}

// Close persists a maple snapshot and closes the database
func (ls *LocalStore) Close() error {
	if ls.snapshot != "" {
		if err := ls.persist(); err != nil {
			_ = ls.IStore.Close()
			return err
		}
	}
	return ls.IStore.Close()
}

// persist writes the snapshot to a temporary file and renames it into place
func (ls *LocalStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(ls.snapshot), 0o755); err != nil {
		return err
	}
	tmp := ls.snapshot + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := ls.kvdb.Save(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("save %s: %w", ls.snapshot, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, ls.snapshot)
}

// --------------------------------------------------------------------------
// Argument parsing
// --------------------------------------------------------------------------

// ParseVersion parses a version argument, "absent" and "0" mean NoVersion
func ParseVersion(s string) (store.Version, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v")
	if s == "" || s == "absent" {
		return store.NoVersion, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return store.NoVersion, fmt.Errorf("invalid version %q", s)
	}
	return store.Version(v), nil
}

// ParseTime parses an RFC 3339 time or a duration relative to now (e.g. 5m)
func ParseTime(s string, now time.Time) (time.Time, error) {
	if s == "" || s == "now" {
		return now, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (expected RFC 3339 or a duration like 5m)", s)
	}
	return t, nil
}
