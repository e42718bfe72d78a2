package node

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
)

// ErrInvalidHostname means no schedule can be built for the host.
var ErrInvalidHostname = errors.New("hostname does not name a voting node role")

var hostnamePattern = regexp.MustCompile(`(?i)^(leader|follower)([0-9]+)$`)

// Leadership is the role and index encoded in a node hostname.
type Leadership struct {
	Role  Role
	Index int
}

func (l Leadership) String() string {
	return fmt.Sprintf("%s%d", l.Role, l.Index)
}

// IsLeader0 reports whether the node produces block0 for the election.
func (l Leadership) IsLeader0() bool {
	return l.Role == RoleLeader && l.Index == 0
}

// ResolveRole maps hostnames like "leader0", "Leader3" or "follower12" to
// their role and index.
func ResolveRole(hostname string) (Leadership, error) {
	m := hostnamePattern.FindStringSubmatch(strings.TrimSpace(hostname))
	if m == nil {
		return Leadership{}, fmt.Errorf("%w: %q", ErrInvalidHostname, hostname)
	}
	idx, err := strconv.Atoi(m[2])
	if err != nil {
		return Leadership{}, fmt.Errorf("%w: %q: %v", ErrInvalidHostname, hostname, err)
	}
	return Leadership{Role: Role(strings.ToLower(m[1])), Index: idx}, nil
}

// trustedPeerAddresses lists the P2P addresses a node bootstraps from.
// leader0 trusts nobody, leaderN trusts leaders with a lower index and
// followers trust every leader. Hostnames without a role are ignored.
func trustedPeerAddresses(self Leadership, peers []string, p2pPort int) []string {
	out := []string{}
	if self.IsLeader0() {
		return out
	}
	for _, host := range peers {
		peer, err := ResolveRole(host)
		if err != nil || peer.Role != RoleLeader {
			continue
		}
		if self.Role == RoleLeader && peer.Index >= self.Index {
			continue
		}
		out = append(out, p2pAddress(host, p2pPort))
	}
	return out
}

func p2pAddress(host string, port int) string {
	return fmt.Sprintf("/dns4/%s/tcp/%d", host, port)
}
