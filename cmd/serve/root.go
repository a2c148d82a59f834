package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/common"
	"github.com/ValentinKolb/dPersist/lib/db/util"
	"github.com/ValentinKolb/dPersist/lib/retry"
	"github.com/ValentinKolb/dPersist/lib/store/dstore"
	"github.com/ValentinKolb/dPersist/lib/timers"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	log = logger.GetLogger("serve")

	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a replica of the replicated store and its timer worker",
		Long:    `Start a replica with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DPERSIST_<flag> (e.g. DPERSIST_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)
	cmdUtil.SetupStoreFlags(ServeCmd)

	key := "shard"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("ID of the RAFT shard holding state and timers"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Election and heartbeat timing are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("SnapshotEntries defines after how many applied RAFT log entries the state machine is snapshotted. 0 disables automatic snapshots (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 500, cmdUtil.WrapString("CompactionOverhead defines how many log entries are kept after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout of replicated operations in seconds"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9100", cmdUtil.WrapString("Address of the /metrics endpoint, empty to disable it"))

	key = "scan-interval"
	ServeCmd.PersistentFlags().Duration(key, 5*time.Second, cmdUtil.WrapString("How often the timer worker scans the ring segment owned by this replica"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	storeConf, err := cmdUtil.GetStoreConfig()
	if err != nil {
		return err
	}
	serveCmdConfig.Store = *storeConf
	serveCmdConfig.ShardID = viper.GetUint64("shard")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.ScanInterval = viper.GetDuration("scan-interval")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	id := viper.GetString("replica-id")
	if id == "" {
		return fmt.Errorf("ReplicaId is required")
	}
	serveCmdConfig.ReplicaID = uint64(util.HashString(id, 0))

	members, err := parseMembers(viper.GetString("cluster-members"))
	if err != nil {
		return err
	}
	serveCmdConfig.ClusterMembers = members

	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok {
		return fmt.Errorf("no address found for replica ID %s in cluster members", id)
	}
	if serveCmdConfig.ScanInterval <= 0 {
		return fmt.Errorf("scan interval must be positive")
	}
	return nil
}

// parseMembers parses 'name=address,...' into replica ids and addresses
func parseMembers(raw string) (map[uint64]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("ClusterMembers is required")
	}
	members := make(map[uint64]string)
	for _, member := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(member), "=")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[uint64(util.HashString(parts[0], 0))] = parts[1]
	}
	return members, nil
}

// run starts the replica and blocks until SIGINT or SIGTERM
func run(cmd *cobra.Command, _ []string) error {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf := serveCmdConfig
	log.Infof("starting replica")
	log.Infof("%s", conf.String())

	nodeHost, err := dragonboat.NewNodeHost(conf.ToNodeHostConfig())
	if err != nil {
		return fmt.Errorf("failed to create node host: %w", err)
	}
	defer nodeHost.Close()

	dbDir := filepath.Join(conf.Store.DataDir, "shard-"+strconv.FormatUint(conf.ShardID, 10), strconv.FormatUint(conf.ReplicaID, 10))
	factory := cmdUtil.DBFactory(&conf.Store, dbDir)
	if err := nodeHost.StartConcurrentReplica(conf.ClusterMembers, false, dstore.CreateStateMachineFactory(factory), conf.ToDragonboatConfig()); err != nil {
		return fmt.Errorf("failed to start shard %d: %w", conf.ShardID, err)
	}

	sessions := dstore.NewDistributedStore(nodeHost, conf.ShardID, conf.Timeout())
	defer sessions.Close()

	segment, err := conf.OwnedSegment()
	if err != nil {
		return err
	}
	w := &worker{
		registry: timers.NewRegistry(sessions, timers.Options{
			ServiceID:       conf.Store.ServiceID,
			ClusterID:       conf.Store.ClusterID,
			Prefix:          conf.Store.TimerPrefix,
			WaitForNonStale: conf.Store.WaitForNonStale,
		}),
		segment:  segment,
		interval: conf.ScanInterval,
		policy:   retry.DefaultPolicy(),
	}

	var srv *http.Server
	if conf.MetricsEndpoint != "" {
		srv = metricsServer(conf.MetricsEndpoint)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics endpoint failed: %v", err)
			}
		}()
	}

	log.Infof("replica %d serves shard %d, timer segment %v", conf.ReplicaID, conf.ShardID, segment)
	w.run(ctx)

	log.Infof("shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

// metricsServer exposes all VictoriaMetrics metrics of the process on /metrics
func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
