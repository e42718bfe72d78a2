// Package nodeconfig holds the YAML documents a voting node writes into its
// storage directory and the per-role node_config templates.
package nodeconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File names under the node storage directory.
const (
	SecretFile        = "node_secret.yaml"
	TopologyKeyFile   = "node_topology_key"
	ConfigFile        = "node_config.yaml"
	Block0File        = "block0.bin"
	GenesisFile       = "genesis.yaml"
	VotePlanFile      = "vote_plan.yaml"
	VotePlanCertFile  = "vote_plan.cert"
	PersistentLogDir  = "persistent_log"
	defaultFilePerm   = 0o600
	defaultFolderPerm = 0o755
)

type Listen struct {
	Listen string `yaml:"listen"`
}

type TrustedPeer struct {
	Address string `yaml:"address"`
}

type Bootstrap struct {
	TrustedPeers []TrustedPeer `yaml:"trusted_peers"`
	NodeKeyFile  string        `yaml:"node_key_file"`
}

type Connection struct {
	PublicAddress         string   `yaml:"public_address"`
	AllowPrivateAddresses bool     `yaml:"allow_private_addresses"`
	Whitelist             []string `yaml:"whitelist"`
}

type Policy struct {
	QuarantineDuration string `yaml:"quarantine_duration"`
}

type Layers struct {
	TopicsOfInterest map[string]string `yaml:"topics_of_interest"`
}

type P2P struct {
	Bootstrap  Bootstrap  `yaml:"bootstrap"`
	Connection Connection `yaml:"connection"`
	Policy     Policy     `yaml:"policy"`
	Layers     Layers     `yaml:"layers"`
}

type Log struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

type PersistentLog struct {
	Dir string `yaml:"dir"`
}

type Mempool struct {
	PoolMaxEntries int            `yaml:"pool_max_entries"`
	LogMaxEntries  int            `yaml:"log_max_entries"`
	PersistentLog  *PersistentLog `yaml:"persistent_log"`
}

// NodeConfig is the ledger node configuration document (node_config.yaml).
type NodeConfig struct {
	Storage                   string  `yaml:"storage"`
	Rest                      Listen  `yaml:"rest"`
	JRPC                      Listen  `yaml:"jrpc"`
	P2P                       P2P     `yaml:"p2p"`
	Log                       Log     `yaml:"log"`
	Mempool                   Mempool `yaml:"mempool"`
	BootstrapFromTrustedPeers bool    `yaml:"bootstrap_from_trusted_peers"`
	SkipBootstrap             bool    `yaml:"skip_bootstrap"`
}

type BFT struct {
	SigningKey string `yaml:"signing_key"`
}

// NodeSecret is the node_secret.yaml document.
type NodeSecret struct {
	BFT BFT `yaml:"bft"`
}

// WriteYAML encodes v and overwrites path with the result.
func WriteYAML(path string, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteFile(path, b)
}

// ReadYAML decodes the document at path into v.
func ReadYAML(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteFile replaces path with data, creating the parent directory when needed.
func WriteFile(path string, data []byte) error {
	if path == "" {
		return errors.New("path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultFolderPerm); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, defaultFilePerm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// EnsureDir creates dir and its parents.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, defaultFolderPerm)
}
