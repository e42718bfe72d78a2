package eventdb

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Identity is a node's persistent key material, created once per hostname.
type Identity struct {
	Hostname   string
	SigningKey string
	PublicKey  string
	NetworkKey string
	// IPAddress is the address the node resolved for itself when the identity
	// was created. Peers use it as a hint only.
	IPAddress string
}

// Election is a row of the event table.
type Election struct {
	ID                       int64
	Name                     string
	StartTime                *time.Time
	EndTime                  *time.Time
	RegistrationSnapshotTime *time.Time
	SnapshotStart            *time.Time
	VotingStart              *time.Time
	VotingEnd                *time.Time
	TallyingEnd              *time.Time
	Block0                   []byte
	Block0Hash               string
	CommitteeSize            int
	CommitteeThreshold       int
}

func (e Election) HasBlock0() bool {
	return len(e.Block0) > 0
}

// PeerInfo describes a sibling leader node.
type PeerInfo struct {
	Hostname     string
	IPAddress    string
	ConsensusKey string
}
