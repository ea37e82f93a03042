// Package config loads matcher settings from DEXMATCH_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	str2duration "github.com/xhit/go-str2duration/v2"

	"dexmatch/domain/asset"
	"dexmatch/infra/logging"
)

const envPrefix = "DEXMATCH_"

type Config struct {
	Server       ServerConfig
	Engine       EngineConfig
	Storage      StorageConfig
	Kafka        KafkaConfig
	Logging      logging.Config
	Markets      MarketsConfig
	BalancesFile string
}

type ServerConfig struct {
	GRPCAddr    string
	MetricsAddr string // empty disables /metrics
}

type EngineConfig struct {
	InboxSize        int
	QueryTimeout     time.Duration
	SnapshotInterval time.Duration
	SnapshotsToKeep  int
	MaxOrders        int
	RecentIDs        int
}

type StorageConfig struct {
	DataDir         string
	StoreType       string // memory | pebble
	SegmentSize     int64
	SegmentDuration time.Duration
	SyncWrites      bool
}

func (s StorageConfig) EventsDir() string    { return filepath.Join(s.DataDir, "events") }
func (s StorageConfig) OutboxDir() string    { return filepath.Join(s.DataDir, "outbox") }
func (s StorageConfig) StoreDir() string     { return filepath.Join(s.DataDir, "orders") }
func (s StorageConfig) SnapshotsDir() string { return filepath.Join(s.DataDir, "snapshots") }

type KafkaConfig struct {
	Brokers         []string // empty disables publishing
	SettlementTopic string
	EventsTopic     string
	PublishInterval time.Duration
}

// MarketsConfig lists asset precisions and tradable pairs.
type MarketsConfig struct {
	Assets map[asset.Asset]uint8
	Pairs  []asset.Pair
}

func (m MarketsConfig) Registry() (*asset.Registry, error) {
	return asset.NewRegistry(m.Assets, m.Pairs)
}

// Load reads envFile when given (it must exist), otherwise an optional
// .env in the working directory, then the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Wrapf(err, "load %s", envFile)
		}
	} else {
		_ = godotenv.Load()
	}

	var p parser
	cfg := &Config{
		Server: ServerConfig{
			GRPCAddr:    p.str("GRPC_ADDR", ":50051"),
			MetricsAddr: p.str("METRICS_ADDR", ""),
		},
		Engine: EngineConfig{
			InboxSize:        p.integer("INBOX_SIZE", 256),
			QueryTimeout:     p.duration("QUERY_TIMEOUT", 5*time.Second),
			SnapshotInterval: p.duration("SNAPSHOT_INTERVAL", time.Minute),
			SnapshotsToKeep:  p.integer("SNAPSHOTS_TO_KEEP", 3),
			MaxOrders:        p.integer("MAX_ORDERS", 1000),
			RecentIDs:        p.integer("RECENT_IDS", 10000),
		},
		Storage: StorageConfig{
			DataDir:         p.str("DATA_DIR", "./data"),
			StoreType:       p.str("STORE_TYPE", "pebble"),
			SegmentSize:     int64(p.integer("SEGMENT_SIZE", 64<<20)),
			SegmentDuration: p.duration("SEGMENT_DURATION", 0),
			SyncWrites:      p.boolean("SYNC_WRITES", true),
		},
		Kafka: KafkaConfig{
			Brokers:         p.list("KAFKA_BROKERS"),
			SettlementTopic: p.str("SETTLEMENT_TOPIC", "dex.settlements"),
			EventsTopic:     p.str("EVENTS_TOPIC", "dex.events"),
			PublishInterval: p.duration("PUBLISH_INTERVAL", 250*time.Millisecond),
		},
		Logging: logging.Config{
			Level:  p.str("LOG_LEVEL", "info"),
			Format: p.str("LOG_FORMAT", "text"),
			File:   p.str("LOG_FILE", ""),
		},
		Markets: MarketsConfig{
			Assets: p.assets("ASSETS"),
			Pairs:  p.pairs("PAIRS"),
		},
		BalancesFile: p.str("BALANCES_FILE", ""),
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.StoreType {
	case "memory", "pebble":
	default:
		return errors.Newf("unknown store type %q", c.Storage.StoreType)
	}
	if c.Storage.DataDir == "" {
		return errors.New("data dir required")
	}
	if c.Engine.InboxSize <= 0 {
		return errors.Newf("invalid inbox size: %d", c.Engine.InboxSize)
	}
	if c.Engine.QueryTimeout <= 0 {
		return errors.Newf("invalid query timeout: %s", c.Engine.QueryTimeout)
	}
	if c.Engine.MaxOrders <= 0 {
		return errors.Newf("invalid max orders: %d", c.Engine.MaxOrders)
	}
	if c.Storage.SegmentSize <= 0 {
		return errors.Newf("invalid segment size: %d", c.Storage.SegmentSize)
	}
	if len(c.Markets.Pairs) == 0 {
		return errors.New("no pairs configured")
	}
	if _, err := c.Markets.Registry(); err != nil {
		return err
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Server{GRPC:%s, Metrics:%q}, Storage{Dir:%s, Store:%s, Sync:%v}, Pairs:%d, Kafka:%v",
		c.Server.GRPCAddr, c.Server.MetricsAddr,
		c.Storage.DataDir, c.Storage.StoreType, c.Storage.SyncWrites,
		len(c.Markets.Pairs), c.Kafka.Brokers,
	)
}

// parser reads prefixed variables and keeps the first malformed one.
// Unset or empty variables take their default.
type parser struct {
	err error
}

func (p *parser) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	return v, v != ""
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = errors.Wrapf(err, "%s%s", envPrefix, key)
	}
}

func (p *parser) str(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "yes", "1":
		return true
	case "false", "no", "0":
		return false
	}
	p.fail(key, errors.Newf("not a boolean: %q", v))
	return def
}

// duration accepts Go durations plus day and week units ("1d12h").
func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	d, err := str2duration.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) list(key string) []string {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// assets parses "WAVES:8,USD:2".
func (p *parser) assets(key string) map[asset.Asset]uint8 {
	out := make(map[asset.Asset]uint8)
	for _, item := range p.list(key) {
		name, dec, ok := strings.Cut(item, ":")
		if !ok {
			p.fail(key, errors.Newf("asset %q lacks decimals", item))
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(dec), 10, 8)
		if err != nil {
			p.fail(key, errors.Wrapf(err, "asset %q", item))
			continue
		}
		out[asset.Asset(strings.TrimSpace(name))] = uint8(n)
	}
	return out
}

func (p *parser) pairs(key string) []asset.Pair {
	var out []asset.Pair
	for _, item := range p.list(key) {
		pair, err := asset.ParsePair(item)
		if err != nil {
			p.fail(key, err)
			continue
		}
		out = append(out, pair)
	}
	return out
}
