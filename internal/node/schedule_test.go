package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-core-sub000/internal/eventdb"
	"github.com/input-output-hk/catalyst-core-sub000/internal/nodeconfig"
	"github.com/input-output-hk/catalyst-core-sub000/internal/schedule"
)

type fakeDB struct {
	identities  map[string]eventdb.Identity
	election    eventdb.Election
	electionErr error
	peers       []eventdb.PeerInfo
	peersErr    error

	opened, closed int
	block0         []byte
	block0Hash     string
}

func newFakeDB() *fakeDB {
	return &fakeDB{identities: map[string]eventdb.Identity{}}
}

func (f *fakeDB) Open(context.Context) error { f.opened++; return nil }
func (f *fakeDB) Close() error               { f.closed++; return nil }

func (f *fakeDB) FetchHostIdentity(_ context.Context, hostname string) (eventdb.Identity, error) {
	id, ok := f.identities[hostname]
	if !ok {
		return eventdb.Identity{}, fmt.Errorf("host %s: %w", hostname, eventdb.ErrNotFound)
	}
	return id, nil
}

func (f *fakeDB) InsertHostIdentity(_ context.Context, id eventdb.Identity) error {
	if _, ok := f.identities[id.Hostname]; !ok {
		f.identities[id.Hostname] = id
	}
	return nil
}

func (f *fakeDB) FetchUpcomingElection(context.Context) (eventdb.Election, error) {
	return f.election, f.electionErr
}

func (f *fakeDB) FetchPeerLeaders(context.Context, string) ([]eventdb.PeerInfo, error) {
	return f.peers, f.peersErr
}

func (f *fakeDB) InsertBlock0(_ context.Context, _ int64, block0 []byte, hash string) error {
	f.block0, f.block0Hash = block0, hash
	return nil
}

type fakeKeys struct {
	n int
}

func (k *fakeKeys) GenerateSecret(context.Context, string) (string, error) {
	k.n++
	return fmt.Sprintf("ed25519_sk1-%d", k.n), nil
}

func (k *fakeKeys) DerivePublic(_ context.Context, secret string) (string, error) {
	return "pk-of-" + secret, nil
}

func (k *fakeKeys) GenesisEncode(_ context.Context, genesisPath, block0Path string) error {
	b, err := os.ReadFile(genesisPath)
	if err != nil {
		return err
	}
	return os.WriteFile(block0Path, append([]byte("block0:"), b...), 0o600)
}

func (k *fakeKeys) GenesisHash(context.Context, string) (string, error) {
	return "hash-1", nil
}

func (k *fakeKeys) VotePlanCertificate(context.Context, string) (string, error) {
	return "signedcert1xyz", nil
}

type fakeLedger struct {
	calls [][3]string
}

func (l *fakeLedger) StartLeader(_ context.Context, secret, config, block0 string) error {
	l.calls = append(l.calls, [3]string{secret, config, block0})
	return nil
}

type fakeMirror struct {
	keys []string
}

func (m *fakeMirror) PutFile(_ context.Context, key, _, _ string) error {
	m.keys = append(m.keys, key)
	return nil
}

type recorder struct {
	steps []string
	runs  []string
}

func (r *recorder) StepFinished(step, result string) { r.steps = append(r.steps, step+":"+result) }
func (r *recorder) RunFinished(result string)        { r.runs = append(r.runs, result) }

func (r *recorder) take() []string {
	out := r.steps
	r.steps = nil
	return out
}

type fixture struct {
	deps   Deps
	db     *fakeDB
	keys   *fakeKeys
	ledger *fakeLedger
	mirror *fakeMirror
	rec    *recorder
	now    time.Time
}

var votingStart = time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, hostname string) *fixture {
	t.Helper()
	leadership, err := ResolveRole(hostname)
	require.NoError(t, err)

	f := &fixture{
		db:     newFakeDB(),
		keys:   &fakeKeys{},
		ledger: &fakeLedger{},
		mirror: &fakeMirror{},
		rec:    &recorder{},
		now:    votingStart.Add(time.Hour),
	}
	end := votingStart.Add(30 * time.Minute)
	f.db.election = eventdb.Election{ID: 7, Name: "Fund 7", VotingStart: &votingStart, VotingEnd: &end}
	f.deps = Deps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Settings: Settings{
			Hostname: hostname,
			Storage:  t.TempDir(),
			JCliPath: "jcli",
			JormPath: "jormungandr",
			RestPort: 10080,
			JRPCPort: 10085,
			P2PPort:  10090,
		},
		Leadership: leadership,
		DB:         f.db,
		Keys:       f.keys,
		Ledger:     f.ledger,
		Mirror:     f.mirror,
		LookupIP:   func(context.Context, string) (string, error) { return "10.0.0.5", nil },
		Now:        func() time.Time { return f.now },
		Observer:   f.rec,
	}
	return f
}

func (f *fixture) seedIdentity(hostname string) {
	f.db.identities[hostname] = eventdb.Identity{
		Hostname:   hostname,
		SigningKey: "ed25519_sk1-seed",
		PublicKey:  "pk-seed",
		NetworkKey: "ed25519_sk1-net",
	}
}

func (f *fixture) storage(name string) string {
	return filepath.Join(f.deps.Settings.Storage, name)
}

func TestNewScheduleForHostPipelines(t *testing.T) {
	cases := map[string][]schedule.StepID{
		"leader0": {
			StepBootstrapDB, StepBootstrapHost, StepFetchPeerInfo, StepSetNodeSecrets, StepSetNodeConfig,
			StepFetchUpcomingElection, StepFetchVoteplanProposals, StepGenerateBlock0, StepGenerateVoteplan,
			StepWaitForVoting, StepVoting, StepTally, StepCleanup,
		},
		"leader3": {
			StepBootstrapDB, StepBootstrapHost, StepFetchPeerInfo, StepSetNodeSecrets, StepSetNodeConfig,
			StepFetchUpcomingElection, StepGetBlock0, StepWaitForVoting, StepVoting, StepTally, StepCleanup,
		},
		"follower1": {
			StepBootstrapDB, StepBootstrapHost, StepFetchPeerInfo, StepSetNodeSecrets, StepSetNodeConfig,
			StepFetchUpcomingElection, StepCleanup,
		},
	}
	for host, want := range cases {
		f := newFixture(t, host)
		f.deps.Leadership = Leadership{}

		s, err := NewScheduleForHost(f.deps)
		require.NoError(t, err, host)
		assert.Equal(t, want, s.Steps(), host)
		assert.Equal(t, host, s.Leadership().String())
	}
}

func TestNewScheduleForHostRejectsUnknownRole(t *testing.T) {
	f := newFixture(t, "leader1")
	f.deps.Settings.Hostname = "worker1"

	_, err := NewScheduleForHost(f.deps)
	assert.ErrorIs(t, err, ErrInvalidHostname)
}

func TestNodeTaskSchedulePipeline(t *testing.T) {
	f := newFixture(t, "leader2")
	s, err := NewNodeTaskSchedule(f.deps)
	require.NoError(t, err)
	assert.Equal(t, []schedule.StepID{
		StepBootstrapDB, StepBootstrapHost, StepSetNodeSecrets, StepSetNodeConfig, StepFetchUpcomingElection, StepCleanup,
	}, s.Steps())
}

func TestScheduleRequiresCollaborators(t *testing.T) {
	f := newFixture(t, "leader1")
	f.deps.Ledger = nil
	_, err := NewLeaderSchedule(f.deps)
	assert.Error(t, err)

	f = newFixture(t, "follower1")
	f.deps.DB = nil
	_, err = NewFollowerSchedule(f.deps)
	assert.Error(t, err)
}

func TestLeader0CreatesIdentityThenRestarts(t *testing.T) {
	f := newFixture(t, "leader0")
	s, err := NewSchedule(f.deps)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.ErrorIs(t, err, schedule.ErrRestartRequested)
	var stepErr *schedule.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepBootstrapHost, stepErr.Step)
	assert.Equal(t, []string{"bootstrap_db:ok", "bootstrap_host:restart"}, f.rec.take())
	_, marked := s.Current()
	assert.False(t, marked)

	id, ok := f.db.identities["leader0"]
	require.True(t, ok, "identity persisted")
	assert.Equal(t, "ed25519_sk1-1", id.SigningKey)
	assert.Equal(t, "pk-of-ed25519_sk1-1", id.PublicKey)
	assert.Equal(t, "ed25519_sk1-2", id.NetworkKey)
	assert.Equal(t, "10.0.0.5", id.IPAddress)

	err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrNotImplemented)
	assert.Equal(t, []string{
		"bootstrap_db:ok",
		"bootstrap_host:ok",
		"fetch_peer_info:ok",
		"set_node_secrets:ok",
		"set_node_config:ok",
		"fetch_upcoming_election:ok",
		"fetch_voteplan_proposals:error",
	}, f.rec.take())
	current, _ := s.Current()
	assert.Equal(t, StepFetchVoteplanProposals, current)
	assert.Equal(t, schedule.StateFailed, s.State())
	assert.Equal(t, 2, f.db.opened)
	assert.Zero(t, f.db.closed)

	key, err := os.ReadFile(f.storage(nodeconfig.TopologyKeyFile))
	require.NoError(t, err)
	assert.Equal(t, "ed25519_sk1-2", string(key))

	var secret nodeconfig.NodeSecret
	require.NoError(t, nodeconfig.ReadYAML(f.storage(nodeconfig.SecretFile), &secret))
	assert.Equal(t, "ed25519_sk1-1", secret.BFT.SigningKey)

	var cfg nodeconfig.NodeConfig
	require.NoError(t, nodeconfig.ReadYAML(f.storage(nodeconfig.ConfigFile), &cfg))
	assert.True(t, cfg.SkipBootstrap)
	assert.Equal(t, "10.0.0.5:10080", cfg.Rest.Listen)
	assert.Equal(t, "10.0.0.5:10085", cfg.JRPC.Listen)
	assert.Equal(t, "/dns4/leader0/tcp/10090", cfg.P2P.Connection.PublicAddress)
	assert.Equal(t, f.storage(nodeconfig.TopologyKeyFile), cfg.P2P.Bootstrap.NodeKeyFile)
	assert.Empty(t, cfg.P2P.Bootstrap.TrustedPeers)
}

func TestLeaderToleratesPeerDiscoveryFailure(t *testing.T) {
	f := newFixture(t, "leader1")
	f.seedIdentity("leader1")
	f.db.peersErr = errors.New("connection reset")
	f.db.election.Block0 = []byte("block0-bytes")
	f.db.election.Block0Hash = "abc"

	s, err := NewSchedule(f.deps)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{
		"bootstrap_db:ok",
		"bootstrap_host:ok",
		"fetch_peer_info:ok",
		"set_node_secrets:ok",
		"set_node_config:ok",
		"fetch_upcoming_election:ok",
		"get_block0:ok",
		"wait_for_voting:ok",
		"voting:ok",
		"tally:ok",
		"cleanup:ok",
	}, f.rec.take())
	assert.Equal(t, schedule.StateCompleted, s.State())
	assert.Equal(t, []string{"ok"}, f.rec.runs)

	var cfg nodeconfig.NodeConfig
	require.NoError(t, nodeconfig.ReadYAML(f.storage(nodeconfig.ConfigFile), &cfg))
	assert.Empty(t, cfg.P2P.Bootstrap.TrustedPeers)
	assert.True(t, cfg.BootstrapFromTrustedPeers)

	block0, err := os.ReadFile(f.storage(nodeconfig.Block0File))
	require.NoError(t, err)
	assert.Equal(t, "block0-bytes", string(block0))

	require.Len(t, f.ledger.calls, 1)
	assert.Equal(t, [3]string{
		f.storage(nodeconfig.SecretFile),
		f.storage(nodeconfig.ConfigFile),
		f.storage(nodeconfig.Block0File),
	}, f.ledger.calls[0])
	assert.Equal(t, 1, f.db.closed)

	// completed schedules are not replayed
	require.NoError(t, s.Run(context.Background()))
	assert.Empty(t, f.rec.take())
}

func TestLeaderResumesAtWaitForVoting(t *testing.T) {
	f := newFixture(t, "leader2")
	f.seedIdentity("leader2")
	f.db.peers = []eventdb.PeerInfo{
		{Hostname: "leader0", ConsensusKey: "pk0"},
		{Hostname: "leader1", ConsensusKey: "pk1"},
		{Hostname: "leader3", ConsensusKey: "pk3"},
	}
	f.db.election.Block0 = []byte("block0-bytes")
	f.now = votingStart.Add(-time.Minute)

	s, err := NewSchedule(f.deps)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step wait_for_voting: voting starts at 2026-11-01T12:00:00Z")
	f.rec.take()

	var cfg nodeconfig.NodeConfig
	require.NoError(t, nodeconfig.ReadYAML(f.storage(nodeconfig.ConfigFile), &cfg))
	assert.Equal(t, []nodeconfig.TrustedPeer{
		{Address: "/dns4/leader0/tcp/10090"},
		{Address: "/dns4/leader1/tcp/10090"},
	}, cfg.P2P.Bootstrap.TrustedPeers)

	// still before the start: the same step fails again and nothing after it runs
	require.Error(t, s.Run(context.Background()))
	assert.Equal(t, []string{"wait_for_voting:error"}, f.rec.take())

	f.now = votingStart.Add(time.Hour)
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"wait_for_voting:ok", "voting:ok", "tally:ok", "cleanup:ok"}, f.rec.take())
	assert.Len(t, f.ledger.calls, 1)
}

func TestLeaderTallyWaitsForVotingEnd(t *testing.T) {
	f := newFixture(t, "leader1")
	f.seedIdentity("leader1")
	f.db.election.Block0 = []byte("block0-bytes")
	f.now = votingStart.Add(time.Minute)

	s, err := NewSchedule(f.deps)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step tally: voting ends at")
	current, _ := s.Current()
	assert.Equal(t, StepTally, current)
}

func TestGetBlock0RequiresPublishedBlock0(t *testing.T) {
	f := newFixture(t, "leader1")
	f.seedIdentity("leader1")

	s, err := NewSchedule(f.deps)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step get_block0: block0 not published")
	assert.Empty(t, f.ledger.calls)
}

func TestGetBlock0PicksUpLatePublishedBlock0(t *testing.T) {
	f := newFixture(t, "leader1")
	f.seedIdentity("leader1")

	s, err := NewSchedule(f.deps)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
	current, _ := s.Current()
	require.Equal(t, StepGetBlock0, current)

	f.db.election.Block0 = []byte("late-block0")
	f.db.election.Block0Hash = "late"
	_, err = s.RunTask(context.Background(), StepGetBlock0)
	require.NoError(t, err)

	block0, err := os.ReadFile(f.storage(nodeconfig.Block0File))
	require.NoError(t, err)
	assert.Equal(t, "late-block0", string(block0))
}

func TestFetchUpcomingElectionFailureIsFatal(t *testing.T) {
	f := newFixture(t, "follower1")
	f.seedIdentity("follower1")
	f.db.electionErr = eventdb.ErrNotFound

	s, err := NewSchedule(f.deps)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.ErrorIs(t, err, eventdb.ErrNotFound)
	current, _ := s.Current()
	assert.Equal(t, StepFetchUpcomingElection, current)
	assert.Zero(t, f.db.closed)
}

func TestFollowerTrustsLeadersAndKeepsPersistentLog(t *testing.T) {
	f := newFixture(t, "follower1")
	f.seedIdentity("follower1")
	f.db.peers = []eventdb.PeerInfo{{Hostname: "leader0"}, {Hostname: "leader1"}}

	s, err := NewSchedule(f.deps)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	var cfg nodeconfig.NodeConfig
	require.NoError(t, nodeconfig.ReadYAML(f.storage(nodeconfig.ConfigFile), &cfg))
	assert.Len(t, cfg.P2P.Bootstrap.TrustedPeers, 2)
	require.NotNil(t, cfg.Mempool.PersistentLog)

	info, err := os.Stat(cfg.Mempool.PersistentLog.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Empty(t, f.ledger.calls)
}

func TestLeader0GeneratesBlock0AndVotePlan(t *testing.T) {
	f := newFixture(t, "leader0")
	f.seedIdentity("leader0")
	f.db.peers = []eventdb.PeerInfo{{Hostname: "leader1", ConsensusKey: "pk1"}}

	s, err := NewSchedule(f.deps)
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []schedule.StepID{
		StepBootstrapDB, StepBootstrapHost, StepFetchPeerInfo, StepFetchUpcomingElection,
		StepGenerateBlock0, StepGenerateVoteplan,
	} {
		outcome, err := s.RunTask(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, schedule.Done, outcome, id)
	}

	var genesis nodeconfig.Genesis
	require.NoError(t, nodeconfig.ReadYAML(f.storage(nodeconfig.GenesisFile), &genesis))
	assert.Equal(t, []string{"pk-seed", "pk1"}, genesis.BlockchainConfiguration.ConsensusLeaderIDs)
	assert.Equal(t, votingStart.Unix(), genesis.BlockchainConfiguration.Block0Date)

	assert.Equal(t, "hash-1", f.db.block0Hash)
	block0, err := os.ReadFile(f.storage(nodeconfig.Block0File))
	require.NoError(t, err)
	assert.Equal(t, block0, f.db.block0)
	assert.Equal(t, []string{"elections/7/block0.bin", "elections/7/genesis.yaml"}, f.mirror.keys)

	cert, err := os.ReadFile(f.storage(nodeconfig.VotePlanCertFile))
	require.NoError(t, err)
	assert.Equal(t, "signedcert1xyz\n", string(cert))

	var plan nodeconfig.VotePlan
	require.NoError(t, nodeconfig.ReadYAML(f.storage(nodeconfig.VotePlanFile), &plan))
	assert.Equal(t, nodeconfig.BlockDate{Epoch: 1, SlotID: 30}, plan.VoteEnd)
	assert.Equal(t, DefaultVotingToken, plan.VotingToken)
}

func TestLeader0ReusesPublishedBlock0(t *testing.T) {
	f := newFixture(t, "leader0")
	f.seedIdentity("leader0")
	f.db.election.Block0 = []byte("existing")
	f.deps.Mirror = nil

	s, err := NewSchedule(f.deps)
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []schedule.StepID{StepBootstrapDB, StepFetchUpcomingElection, StepGenerateBlock0} {
		_, err := s.RunTask(ctx, id)
		require.NoError(t, err, id)
	}
	assert.Nil(t, f.db.block0, "nothing republished")
	block0, err := os.ReadFile(f.storage(nodeconfig.Block0File))
	require.NoError(t, err)
	assert.Equal(t, "existing", string(block0))
}

func TestRunTaskUnknownStep(t *testing.T) {
	f := newFixture(t, "follower1")
	s, err := NewSchedule(f.deps)
	require.NoError(t, err)

	_, err = s.RunTask(context.Background(), StepGenerateBlock0)
	assert.ErrorIs(t, err, schedule.ErrNoSuchStep)
}
