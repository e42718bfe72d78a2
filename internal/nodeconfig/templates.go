package nodeconfig

import (
	"path/filepath"
)

// Params are the per-host values substituted into a role template.
type Params struct {
	Storage       string
	RestListen    string
	JRPCListen    string
	PublicAddress string
	TrustedPeers  []string
	NodeKeyFile   string
}

// Template renders a node configuration for one role.
type Template func(Params) NodeConfig

func base(p Params) NodeConfig {
	peers := make([]TrustedPeer, 0, len(p.TrustedPeers))
	for _, addr := range p.TrustedPeers {
		peers = append(peers, TrustedPeer{Address: addr})
	}
	return NodeConfig{
		Storage: p.Storage,
		Rest:    Listen{Listen: p.RestListen},
		JRPC:    Listen{Listen: p.JRPCListen},
		P2P: P2P{
			Bootstrap: Bootstrap{
				TrustedPeers: peers,
				NodeKeyFile:  p.NodeKeyFile,
			},
			Connection: Connection{
				PublicAddress:         p.PublicAddress,
				AllowPrivateAddresses: true,
			},
			Policy: Policy{QuarantineDuration: "1s"},
			Layers: Layers{TopicsOfInterest: map[string]string{
				"messages": "high",
				"blocks":   "high",
			}},
		},
		Log: Log{Format: "json", Level: "DEBUG", Output: "stdout"},
		Mempool: Mempool{
			PoolMaxEntries: 10000,
			LogMaxEntries:  100000,
		},
		BootstrapFromTrustedPeers: true,
		SkipBootstrap:             false,
	}
}

// Leader0Template starts the chain from block0 without peers.
func Leader0Template(p Params) NodeConfig {
	p.TrustedPeers = nil
	cfg := base(p)
	cfg.BootstrapFromTrustedPeers = false
	cfg.SkipBootstrap = true
	return cfg
}

func LeaderTemplate(p Params) NodeConfig {
	return base(p)
}

// FollowerTemplate keeps a persistent mempool log under the storage directory.
func FollowerTemplate(p Params) NodeConfig {
	cfg := base(p)
	cfg.Mempool.PoolMaxEntries = 1000000
	cfg.Mempool.PersistentLog = &PersistentLog{Dir: PersistentLogPath(p.Storage)}
	return cfg
}

func PersistentLogPath(storage string) string {
	return filepath.Join(storage, PersistentLogDir)
}
