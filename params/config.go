// Package params loads the configuration record spec.md §6's launch_peer
// contract requires, the way the teacher's own params package overlays
// environment variables onto defaults via godotenv.
package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config mirrors spec.md §6's launch_peer config record field-for-field.
type Config struct {
	KeypairPath            string
	ListenPort             int
	ListenAddr             string
	PeerPeers              []string
	StorePath              string
	GenesisStatePath       string
	ConsensusLevels        int
	EnableForkRecovery     bool
	MinEffectiveStake      int64
	MaxTransactionsPerBlock int
	MaxScheduledPerBlock   int
	JuiceLimit             int64
	VerboseLogging         bool
}

// DefaultPeerPort is spec.md §6's "Default peer port 18888".
const DefaultPeerPort = 18888

// MaxTransactionsPerBlock is spec.md §4.6's MAX_TRANSACTIONS_PER_BLOCK.
const MaxTransactionsPerBlock = 1024

func Default() Config {
	return Config{
		KeypairPath:             "peer.key",
		ListenPort:              DefaultPeerPort,
		ListenAddr:              "/ip4/0.0.0.0/tcp/18888",
		StorePath:               "./data",
		ConsensusLevels:         4,
		EnableForkRecovery:      false,
		MinEffectiveStake:       0,
		MaxTransactionsPerBlock: MaxTransactionsPerBlock,
		MaxScheduledPerBlock:    100,
		JuiceLimit:              1_000_000,
	}
}

// LoadFromEnv loads configuration from an optional .env file and
// environment variables, overlaying Default() (priority: ENV > .env file
// > defaults, matching the teacher's params.LoadFromEnv).
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("PEER_KEYPAIR_PATH"); v != "" {
		cfg.KeypairPath = v
	}
	if v := os.Getenv("PEER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PEER_LISTEN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ListenPort = n
		}
	}
	if v := os.Getenv("PEER_PEERS"); v != "" {
		cfg.PeerPeers = splitNonEmpty(v, ",")
	}
	if v := os.Getenv("PEER_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("PEER_GENESIS_STATE_PATH"); v != "" {
		cfg.GenesisStatePath = v
	}
	if v := os.Getenv("PEER_CONSENSUS_LEVELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ConsensusLevels = n
		}
	}
	if v := os.Getenv("PEER_ENABLE_FORK_RECOVERY"); v != "" {
		cfg.EnableForkRecovery = v == "true"
	}
	if v := os.Getenv("PEER_MIN_EFFECTIVE_STAKE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MinEffectiveStake = n
		}
	}
	if v := os.Getenv("PEER_MAX_TX_PER_BLOCK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTransactionsPerBlock = n
		}
	}
	if v := os.Getenv("PEER_MAX_SCHEDULED_PER_BLOCK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxScheduledPerBlock = n
		}
	}
	if v := os.Getenv("PEER_JUICE_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.JuiceLimit = n
		}
	}
	if v := os.Getenv("PEER_VERBOSE"); v != "" {
		cfg.VerboseLogging = v == "true"
	}

	return cfg
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
