// Package config holds node configuration with documented defaults.
// Files are JSON, loaded through viper so every knob can also be overridden
// via ANNEAL_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/annealchain/annealchain/consensus"
	"github.com/annealchain/annealchain/crypto"
	"github.com/annealchain/annealchain/schedule"
)

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	NetworkID       string            `mapstructure:"network_id" json:"network_id"`
	FaucetPubKey    string            `mapstructure:"faucet_pubkey" json:"faucet_pubkey"`
	InitialSupply   uint64            `mapstructure:"initial_supply" json:"initial_supply"`
	InitialAccounts map[string]uint64 `mapstructure:"initial_accounts" json:"initial_accounts"` // pubkey hex → balance
}

// ConsensusConfig tunes probing, scoring and annealing.
type ConsensusConfig struct {
	WitnessQuorum    int     `mapstructure:"witness_quorum" json:"witness_quorum"`
	NonceWindowSec   int     `mapstructure:"nonce_window_sec" json:"nonce_window_sec"`
	SkewBoundSec     int     `mapstructure:"skew_bound_sec" json:"skew_bound_sec"`
	ScoreCacheSec    int     `mapstructure:"score_cache_sec" json:"score_cache_sec"`
	ProbeWindow      int     `mapstructure:"probe_window" json:"probe_window"`
	RandomWeight     float64 `mapstructure:"random_weight" json:"random_weight"`
	WeightUptime     float64 `mapstructure:"weight_uptime" json:"weight_uptime"`
	WeightProposal   float64 `mapstructure:"weight_proposal" json:"weight_proposal"`
	WeightThroughput float64 `mapstructure:"weight_throughput" json:"weight_throughput"`
	WeightLatency    float64 `mapstructure:"weight_latency" json:"weight_latency"`
	AnnealT0         float64 `mapstructure:"anneal_t0" json:"anneal_t0"`
	AnnealT1         float64 `mapstructure:"anneal_t1" json:"anneal_t1"`
	AnnealSweeps     int     `mapstructure:"anneal_sweeps" json:"anneal_sweeps"`
	ShortlistSize    int     `mapstructure:"shortlist_size" json:"shortlist_size"`
}

// ScheduleConfig fixes the epoch geometry.
type ScheduleConfig struct {
	SlotDurationMs int    `mapstructure:"slot_duration_ms" json:"slot_duration_ms"`
	SlotsPerEpoch  uint64 `mapstructure:"slots_per_epoch" json:"slots_per_epoch"`
}

// PoHConfig tunes the sequencer.
type PoHConfig struct {
	TicksPerSecond int `mapstructure:"ticks_per_second" json:"ticks_per_second"`
}

// GulfStreamConfig tunes transaction forwarding.
type GulfStreamConfig struct {
	BundleTimeoutMs int `mapstructure:"bundle_timeout_ms" json:"bundle_timeout_ms"`
	MaxBundleBytes  int `mapstructure:"max_bundle_bytes" json:"max_bundle_bytes"`
}

// TurbineConfig tunes shred propagation.
type TurbineConfig struct {
	ShredSize int `mapstructure:"shred_size" json:"shred_size"`
	Fanout    int `mapstructure:"fanout" json:"fanout"`
}

// Config holds all node configuration.
type Config struct {
	DataDir    string `mapstructure:"data_dir" json:"data_dir"`
	IP         string `mapstructure:"ip" json:"ip"`
	GossipPort int    `mapstructure:"gossip_port" json:"gossip_port"`
	TPUPort    int    `mapstructure:"tpu_port" json:"tpu_port"`
	TVUPort    int    `mapstructure:"tvu_port" json:"tvu_port"`
	SyncPort   int    `mapstructure:"sync_port" json:"sync_port"`

	Genesis    GenesisConfig    `mapstructure:"genesis" json:"genesis"`
	Consensus  ConsensusConfig  `mapstructure:"consensus" json:"consensus"`
	Schedule   ScheduleConfig   `mapstructure:"schedule" json:"schedule"`
	PoH        PoHConfig        `mapstructure:"poh" json:"poh"`
	GulfStream GulfStreamConfig `mapstructure:"gulf_stream" json:"gulf_stream"`
	Turbine    TurbineConfig    `mapstructure:"turbine" json:"turbine"`
}

// DefaultConfig returns a single-node development configuration with the
// documented protocol defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "./data",
		IP:         "127.0.0.1",
		GossipPort: 12000,
		TPUPort:    12001,
		TVUPort:    12002,
		SyncPort:   12003,
		Genesis: GenesisConfig{
			NetworkID:       "annealchain-dev",
			InitialAccounts: map[string]uint64{},
		},
		Consensus: ConsensusConfig{
			WitnessQuorum:    2,
			NonceWindowSec:   300,
			SkewBoundSec:     30,
			ScoreCacheSec:    60,
			ProbeWindow:      100,
			RandomWeight:     0.15,
			WeightUptime:     0.3,
			WeightProposal:   0.25,
			WeightThroughput: 0.25,
			WeightLatency:    0.2,
			AnnealT0:         10.0,
			AnnealT1:         0.1,
			AnnealSweeps:     1000,
			ShortlistSize:    consensus.ShortlistSize,
		},
		Schedule:   ScheduleConfig{SlotDurationMs: 400, SlotsPerEpoch: 32},
		PoH:        PoHConfig{TicksPerSecond: 5000},
		GulfStream: GulfStreamConfig{BundleTimeoutMs: 10, MaxBundleBytes: 1200},
		Turbine:    TurbineConfig{ShredSize: 1024, Fanout: 4},
	}
}

// Load reads a JSON config file and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("ANNEAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Genesis.NetworkID == "" {
		return fmt.Errorf("genesis.network_id must not be empty")
	}
	if c.Genesis.FaucetPubKey != "" {
		if _, err := crypto.PubKeyFromHex(c.Genesis.FaucetPubKey); err != nil {
			return fmt.Errorf("genesis.faucet_pubkey: %w", err)
		}
	}
	for pub := range c.Genesis.InitialAccounts {
		if _, err := crypto.PubKeyFromHex(pub); err != nil {
			return fmt.Errorf("genesis.initial_accounts[%s]: %w", pub, err)
		}
	}
	ports := map[string]int{
		"tpu_port": c.TPUPort, "tvu_port": c.TVUPort,
		"gossip_port": c.GossipPort, "sync_port": c.SyncPort,
	}
	seen := map[int]string{}
	for name, p := range ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%s must be 1-65535, got %d", name, p)
		}
		if other, dup := seen[p]; dup {
			return fmt.Errorf("%s and %s must not share port %d", name, other, p)
		}
		seen[p] = name
	}
	if c.Consensus.WitnessQuorum < 1 {
		return fmt.Errorf("consensus.witness_quorum must be >= 1")
	}
	if c.Schedule.SlotDurationMs <= 0 || c.Schedule.SlotsPerEpoch == 0 {
		return fmt.Errorf("schedule geometry must be positive")
	}
	if c.PoH.TicksPerSecond <= 0 {
		return fmt.Errorf("poh.ticks_per_second must be positive")
	}
	return nil
}

// ScorerConfig converts the consensus section for the scorer.
func (c *Config) ScorerConfig() consensus.ScorerConfig {
	sc := consensus.DefaultScorerConfig()
	sc.WitnessQuorum = c.Consensus.WitnessQuorum
	sc.NonceWindow = time.Duration(c.Consensus.NonceWindowSec) * time.Second
	sc.SkewBound = time.Duration(c.Consensus.SkewBoundSec) * time.Second
	sc.CacheTTL = time.Duration(c.Consensus.ScoreCacheSec) * time.Second
	sc.ProbeWindow = c.Consensus.ProbeWindow
	sc.RandomWeight = c.Consensus.RandomWeight
	sc.Weights = consensus.Weights{
		Uptime:     c.Consensus.WeightUptime,
		Proposal:   c.Consensus.WeightProposal,
		Throughput: c.Consensus.WeightThroughput,
		Latency:    c.Consensus.WeightLatency,
	}
	return sc
}

// Annealer converts the consensus section for the QUBO solver.
func (c *Config) Annealer() consensus.Annealer {
	return consensus.Annealer{
		T0:     c.Consensus.AnnealT0,
		T1:     c.Consensus.AnnealT1,
		Sweeps: c.Consensus.AnnealSweeps,
	}
}

// ScheduleParams converts the schedule section.
func (c *Config) ScheduleParams() schedule.Params {
	return schedule.Params{
		SlotDuration:  time.Duration(c.Schedule.SlotDurationMs) * time.Millisecond,
		SlotsPerEpoch: c.Schedule.SlotsPerEpoch,
	}
}
