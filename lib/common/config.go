package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dPersist/lib/timers"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// Store configuration
// --------------------------------------------------------------------------

// Engine selects the document engine backing a store
type Engine string

const (
	EngineMaple  Engine = "maple"
	EngineSQLite Engine = "sqlite"
)

// ParseEngine validates an engine name
func ParseEngine(name string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(name))); e {
	case EngineMaple, EngineSQLite:
		return e, nil
	default:
		return "", fmt.Errorf("invalid engine %q (expected one of: maple, sqlite)", name)
	}
}

// StoreConfig describes where state and timers are kept and under which scope
type StoreConfig struct {
	Engine  Engine
	DataDir string

	ServiceID   string
	ClusterID   string
	StatePrefix string
	TimerPrefix string

	// WaitForNonStale bounds how long timer queries wait for fresh results
	WaitForNonStale time.Duration
}

// String returns a formatted string representation of the configuration
func (c *StoreConfig) String() string {
	var sb strings.Builder
	addSection, addField := writer(&sb)

	addSection("Store")
	addField("Engine", string(c.Engine))
	addField("Data Directory", c.DataDir)

	addSection("Scope")
	addField("Service ID", c.ServiceID)
	addField("Cluster ID", c.ClusterID)
	addField("State Prefix", c.StatePrefix)
	addField("Timer Prefix", c.TimerPrefix)
	addField("Wait For Non-Stale", c.WaitForNonStale.String())

	return sb.String()
}

// --------------------------------------------------------------------------
// Server configuration
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ServerConfig holds all configuration parameters of a replica
type ServerConfig struct {
	Store StoreConfig

	// Dragonboat parameters
	ShardID            uint64
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	ReplicaID          uint64
	ClusterMembers     map[uint64]string
	TimeoutSecond      int64

	// MetricsEndpoint is the listen address of the /metrics handler, empty disables it
	MetricsEndpoint string
	// ScanInterval is how often the timer worker scans its ring segment
	ScanInterval time.Duration

	LogLevel string
}

// ToDragonboatConfig converts the ServerConfig to a Dragonboat shard config
func (c *ServerConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.Store.DataDir,
		NodeHostDir:    c.Store.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// Timeout is the per request timeout of the replicated store
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// memberIDs returns the replica ids in ascending order
func (c *ServerConfig) memberIDs() []uint64 {
	ids := make([]uint64, 0, len(c.ClusterMembers))
	for id := range c.ClusterMembers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OwnedSegment returns the ring segment whose timers this replica is responsible for.
// The ring is split into one segment per member, members are ordered by replica id.
func (c *ServerConfig) OwnedSegment() (timers.HashRange, error) {
	ids := c.memberIDs()
	segments := timers.SplitRing(len(ids))
	for i, id := range ids {
		if id == c.ReplicaID {
			return segments[i], nil
		}
	}
	return timers.HashRange{}, fmt.Errorf("replica %d is not a cluster member", c.ReplicaID)
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder
	addSection, addField := writer(&sb)

	sb.WriteString(c.Store.String())

	addSection("Node Identity")
	addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
	addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))
	addField("Shard ID", strconv.FormatUint(c.ShardID, 10))
	if segment, err := c.OwnedSegment(); err == nil {
		addField("Timer Segment", segment.String())
	}

	addSection("RAFT Parameters")
	addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
	addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
	addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
	addField("Check Quorum", fmt.Sprintf("%t", true))
	addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
	addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Runtime")
	addField("Metrics Endpoint", c.MetricsEndpoint)
	addField("Scan Interval", c.ScanInterval.String())
	addField("Log Level", c.LogLevel)

	addSection("Cluster")
	sb.WriteString("  Initial Members:\n")
	for _, id := range c.memberIDs() {
		sb.WriteString(fmt.Sprintf("    Node %d: %s\n", id, c.ClusterMembers[id]))
	}
	return sb.String()
}

// writer returns the section and field helpers shared by all String methods
func writer(sb *strings.Builder) (addSection func(string), addField func(string, string)) {
	addSection = func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField = func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}
	return addSection, addField
}
