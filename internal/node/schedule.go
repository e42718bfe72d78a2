// Package node builds the bootstrap pipeline a voting node runs for its role.
//
// Every role shares the base steps (datastore, identity, secrets, config,
// election, cleanup). Leaders add peer discovery and the voting lifecycle;
// leader0 additionally produces block0 and the vote plan. Pipelines are plain
// step lists concatenated from groups, so the order of each role can be read
// off its constructor.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"time"

	"github.com/input-output-hk/catalyst-core-sub000/internal/eventdb"
	"github.com/input-output-hk/catalyst-core-sub000/internal/nodeconfig"
	"github.com/input-output-hk/catalyst-core-sub000/internal/schedule"
)

// Step identifiers.
const (
	StepBootstrapDB            schedule.StepID = "bootstrap_db"
	StepBootstrapHost          schedule.StepID = "bootstrap_host"
	StepFetchPeerInfo          schedule.StepID = "fetch_peer_info"
	StepSetNodeSecrets         schedule.StepID = "set_node_secrets"
	StepSetNodeConfig          schedule.StepID = "set_node_config"
	StepFetchUpcomingElection  schedule.StepID = "fetch_upcoming_election"
	StepFetchVoteplanProposals schedule.StepID = "fetch_voteplan_proposals"
	StepGenerateBlock0         schedule.StepID = "generate_block0"
	StepGenerateVoteplan       schedule.StepID = "generate_voteplan"
	StepGetBlock0              schedule.StepID = "get_block0"
	StepWaitForVoting          schedule.StepID = "wait_for_voting"
	StepVoting                 schedule.StepID = "voting"
	StepTally                  schedule.StepID = "tally"
	StepCleanup                schedule.StepID = "cleanup"
)

// ErrNotImplemented marks steps whose collaborator does not exist yet.
var ErrNotImplemented = errors.New("not implemented")

// Datastore is the event database as seen by the schedule.
type Datastore interface {
	Open(ctx context.Context) error
	Close() error
	FetchHostIdentity(ctx context.Context, hostname string) (eventdb.Identity, error)
	InsertHostIdentity(ctx context.Context, id eventdb.Identity) error
	FetchUpcomingElection(ctx context.Context) (eventdb.Election, error)
	FetchPeerLeaders(ctx context.Context, exclude string) ([]eventdb.PeerInfo, error)
	InsertBlock0(ctx context.Context, electionID int64, block0 []byte, hash string) error
}

// KeyTool creates key material and chain artifacts.
type KeyTool interface {
	GenerateSecret(ctx context.Context, kind string) (string, error)
	DerivePublic(ctx context.Context, secret string) (string, error)
	GenesisEncode(ctx context.Context, genesisPath, block0Path string) error
	GenesisHash(ctx context.Context, block0Path string) (string, error)
	VotePlanCertificate(ctx context.Context, definitionPath string) (string, error)
}

// Ledger runs the voting ledger node.
type Ledger interface {
	StartLeader(ctx context.Context, secretPath, configPath, block0Path string) error
}

// ArtifactMirror copies published artifacts to shared storage.
type ArtifactMirror interface {
	PutFile(ctx context.Context, key, path, contentType string) error
}

type Deps struct {
	Logger     *slog.Logger
	Settings   Settings
	Leadership Leadership
	DB         Datastore
	Keys       KeyTool
	Ledger     Ledger
	// Mirror is optional.
	Mirror   ArtifactMirror
	LookupIP func(ctx context.Context, host string) (string, error)
	Now      func() time.Time
	Observer schedule.Observer
}

func (d Deps) validate() error {
	if d.DB == nil {
		return errors.New("datastore is required")
	}
	if d.Keys == nil {
		return errors.New("key tool is required")
	}
	if d.Leadership.Role == RoleLeader && d.Ledger == nil {
		return errors.New("ledger is required for leaders")
	}
	return d.Settings.Validate()
}

// Schedule is the pipeline of one node together with the state its steps
// hand to each other. Only the runner's steps touch that state, and they run
// one at a time.
type Schedule struct {
	*schedule.Runner

	logger     *slog.Logger
	settings   Settings
	leadership Leadership
	template   nodeconfig.Template

	db       Datastore
	keys     KeyTool
	ledger   Ledger
	mirror   ArtifactMirror
	lookupIP func(ctx context.Context, host string) (string, error)
	now      func() time.Time

	identity   *eventdb.Identity
	peers      []eventdb.PeerInfo
	election   *eventdb.Election
	proposals  []nodeconfig.Proposal
	block0Path string
}

func (s *Schedule) Leadership() Leadership {
	return s.leadership
}

// NewNodeTaskSchedule builds the base pipeline shared by every role.
func NewNodeTaskSchedule(deps Deps) (*Schedule, error) {
	return build(deps, templateFor(deps.Leadership), func(s *Schedule) [][]schedule.Step {
		return [][]schedule.Step{
			s.bootstrapSteps(),
			s.configSteps(),
			s.cleanupSteps(),
		}
	})
}

// NewLeaderSchedule runs peer discovery before secrets and config, then
// follows the election from block0 through tally.
func NewLeaderSchedule(deps Deps) (*Schedule, error) {
	return build(deps, nodeconfig.LeaderTemplate, func(s *Schedule) [][]schedule.Step {
		return [][]schedule.Step{
			s.bootstrapSteps(),
			s.peerSteps(),
			s.configSteps(),
			s.block0Steps(),
			s.votingSteps(),
			s.cleanupSteps(),
		}
	})
}

// NewLeader0Schedule replaces block0 retrieval with its production.
func NewLeader0Schedule(deps Deps) (*Schedule, error) {
	return build(deps, nodeconfig.Leader0Template, func(s *Schedule) [][]schedule.Step {
		return [][]schedule.Step{
			s.bootstrapSteps(),
			s.peerSteps(),
			s.configSteps(),
			s.genesisSteps(),
			s.votingSteps(),
			s.cleanupSteps(),
		}
	})
}

// NewFollowerSchedule trusts every leader; its persistent mempool log comes
// from the follower template.
func NewFollowerSchedule(deps Deps) (*Schedule, error) {
	return build(deps, nodeconfig.FollowerTemplate, func(s *Schedule) [][]schedule.Step {
		return [][]schedule.Step{
			s.bootstrapSteps(),
			s.peerSteps(),
			s.configSteps(),
			s.cleanupSteps(),
		}
	})
}

// NewSchedule picks the pipeline for deps.Leadership.
func NewSchedule(deps Deps) (*Schedule, error) {
	switch l := deps.Leadership; {
	case l.IsLeader0():
		return NewLeader0Schedule(deps)
	case l.Role == RoleLeader:
		return NewLeaderSchedule(deps)
	case l.Role == RoleFollower:
		return NewFollowerSchedule(deps)
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidHostname, l.Role)
	}
}

// NewScheduleForHost resolves the role of deps.Settings.Hostname and builds
// its pipeline.
func NewScheduleForHost(deps Deps) (*Schedule, error) {
	leadership, err := ResolveRole(deps.Settings.Hostname)
	if err != nil {
		return nil, err
	}
	deps.Leadership = leadership
	return NewSchedule(deps)
}

func templateFor(l Leadership) nodeconfig.Template {
	switch {
	case l.IsLeader0():
		return nodeconfig.Leader0Template
	case l.Role == RoleFollower:
		return nodeconfig.FollowerTemplate
	default:
		return nodeconfig.LeaderTemplate
	}
}

func build(deps Deps, template nodeconfig.Template, groups func(*Schedule) [][]schedule.Step) (*Schedule, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("hostname", deps.Settings.Hostname, "role", deps.Leadership.String())

	s := &Schedule{
		logger:     logger,
		settings:   deps.Settings,
		leadership: deps.Leadership,
		template:   template,
		db:         deps.DB,
		keys:       deps.Keys,
		ledger:     deps.Ledger,
		mirror:     deps.Mirror,
		lookupIP:   deps.LookupIP,
		now:        deps.Now,
	}
	if s.lookupIP == nil {
		s.lookupIP = lookupHostIP
	}
	if s.now == nil {
		s.now = time.Now
	}

	runner, err := schedule.NewRunner(logger, slices.Concat(groups(s)...), schedule.WithObserver(deps.Observer))
	if err != nil {
		return nil, err
	}
	s.Runner = runner
	return s, nil
}

func (s *Schedule) bootstrapSteps() []schedule.Step {
	return []schedule.Step{
		{ID: StepBootstrapDB, Run: s.bootstrapDB},
		{ID: StepBootstrapHost, Run: s.bootstrapHost},
	}
}

func (s *Schedule) peerSteps() []schedule.Step {
	return []schedule.Step{
		{ID: StepFetchPeerInfo, Run: s.fetchPeerInfo},
	}
}

func (s *Schedule) configSteps() []schedule.Step {
	return []schedule.Step{
		{ID: StepSetNodeSecrets, Run: s.setNodeSecrets},
		{ID: StepSetNodeConfig, Run: s.setNodeConfig},
		{ID: StepFetchUpcomingElection, Run: s.fetchUpcomingElection},
	}
}

func (s *Schedule) genesisSteps() []schedule.Step {
	return []schedule.Step{
		{ID: StepFetchVoteplanProposals, Run: s.fetchVoteplanProposals},
		{ID: StepGenerateBlock0, Run: s.generateBlock0},
		{ID: StepGenerateVoteplan, Run: s.generateVoteplan},
	}
}

func (s *Schedule) block0Steps() []schedule.Step {
	return []schedule.Step{
		{ID: StepGetBlock0, Run: s.getBlock0},
	}
}

func (s *Schedule) votingSteps() []schedule.Step {
	return []schedule.Step{
		{ID: StepWaitForVoting, Run: s.waitForVoting},
		{ID: StepVoting, Run: s.voting},
		{ID: StepTally, Run: s.tally},
	}
}

func (s *Schedule) cleanupSteps() []schedule.Step {
	return []schedule.Step{
		{ID: StepCleanup, Run: s.cleanup},
	}
}

func lookupHostIP(ctx context.Context, host string) (string, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no address for %s", host)
	}
	return addrs[0], nil
}
