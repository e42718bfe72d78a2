package node

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/input-output-hk/catalyst-core-sub000/internal/eventdb"
	"github.com/input-output-hk/catalyst-core-sub000/internal/platform/env"
	"github.com/input-output-hk/catalyst-core-sub000/internal/platform/postgres"
)

// Settings are fixed for the lifetime of a schedule.
type Settings struct {
	Hostname string
	Storage  string
	JCliPath string
	JormPath string
	RestPort int
	JRPCPort int
	P2PPort  int
	Database postgres.Config
}

func SettingsFromEnv() (Settings, error) {
	restPort, err := env.Port("VOTING_NODE_REST_PORT", 10080)
	if err != nil {
		return Settings{}, err
	}
	jrpcPort, err := env.Port("VOTING_NODE_JRPC_PORT", 10085)
	if err != nil {
		return Settings{}, err
	}
	p2pPort, err := env.Port("VOTING_NODE_P2P_PORT", 10090)
	if err != nil {
		return Settings{}, err
	}
	db, err := postgres.ConfigFromEnv()
	if err != nil {
		return Settings{}, fmt.Errorf("database: %w", err)
	}

	hostname := strings.TrimSpace(env.String("VOTING_NODE_HOSTNAME", ""))
	if hostname == "" {
		hostname, err = os.Hostname()
		if err != nil {
			return Settings{}, fmt.Errorf("hostname: %w", err)
		}
	}

	s := Settings{
		Hostname: eventdb.NormalizeHostname(hostname),
		Storage:  strings.TrimSpace(env.String("VOTING_NODE_STORAGE", "./node_storage")),
		JCliPath: strings.TrimSpace(env.String("JCLI_PATH", "jcli")),
		JormPath: strings.TrimSpace(env.String("JORM_PATH", "jormungandr")),
		RestPort: restPort,
		JRPCPort: jrpcPort,
		P2PPort:  p2pPort,
		Database: db,
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.Hostname) == "" {
		return errors.New("hostname is required")
	}
	if strings.TrimSpace(s.Storage) == "" {
		return errors.New("storage directory is required")
	}
	if s.JCliPath == "" || s.JormPath == "" {
		return errors.New("jcli and jormungandr paths are required")
	}
	if s.RestPort == s.JRPCPort || s.RestPort == s.P2PPort || s.JRPCPort == s.P2PPort {
		return fmt.Errorf("rest (%d), jrpc (%d) and p2p (%d) ports must differ", s.RestPort, s.JRPCPort, s.P2PPort)
	}
	return nil
}
