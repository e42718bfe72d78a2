package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/input-output-hk/catalyst-core-sub000/internal/eventdb"
	"github.com/input-output-hk/catalyst-core-sub000/internal/jcli"
	"github.com/input-output-hk/catalyst-core-sub000/internal/nodeconfig"
	"github.com/input-output-hk/catalyst-core-sub000/internal/schedule"
)

// DefaultVotingToken is the token vote plans are denominated in.
const DefaultVotingToken = "00000000000000000000000000000000000000000000000000000000.80e38c705071df24015513f5c19d7dc1077cf9943440a8120c5011c64c888cda"

func (s *Schedule) path(name string) string {
	return filepath.Join(s.settings.Storage, name)
}

func (s *Schedule) bootstrapDB(ctx context.Context) (schedule.Outcome, error) {
	if err := s.db.Open(ctx); err != nil {
		return schedule.Done, fmt.Errorf("open event db: %w", err)
	}
	return schedule.Done, nil
}

// bootstrapHost loads the node identity. A missing identity is created and
// stored, then the schedule restarts so every later step sees it as existing.
func (s *Schedule) bootstrapHost(ctx context.Context) (schedule.Outcome, error) {
	host := s.settings.Hostname
	id, err := s.db.FetchHostIdentity(ctx, host)
	if err == nil {
		s.identity = &id
		s.logger.Info("host identity loaded", "public_key", id.PublicKey)
		return schedule.Done, nil
	}
	if !errors.Is(err, eventdb.ErrNotFound) {
		return schedule.Done, fmt.Errorf("fetch host identity: %w", err)
	}

	created, err := s.createIdentity(ctx)
	if err != nil {
		return schedule.Done, err
	}
	if err := s.db.InsertHostIdentity(ctx, created); err != nil {
		return schedule.Done, fmt.Errorf("insert host identity: %w", err)
	}
	s.logger.Info("host identity created", "public_key", created.PublicKey)
	return schedule.Restart, nil
}

func (s *Schedule) createIdentity(ctx context.Context) (eventdb.Identity, error) {
	signing, err := s.keys.GenerateSecret(ctx, jcli.SecretTypeEd25519)
	if err != nil {
		return eventdb.Identity{}, fmt.Errorf("generate signing key: %w", err)
	}
	public, err := s.keys.DerivePublic(ctx, signing)
	if err != nil {
		return eventdb.Identity{}, fmt.Errorf("derive public key: %w", err)
	}
	network, err := s.keys.GenerateSecret(ctx, jcli.SecretTypeEd25519)
	if err != nil {
		return eventdb.Identity{}, fmt.Errorf("generate network key: %w", err)
	}

	ip, err := s.lookupIP(ctx, s.settings.Hostname)
	if err != nil {
		s.logger.Warn("host address unknown", "error", err)
		ip = ""
	}
	return eventdb.Identity{
		Hostname:   s.settings.Hostname,
		SigningKey: signing,
		PublicKey:  public,
		NetworkKey: network,
		IPAddress:  ip,
	}, nil
}

// fetchPeerInfo never fails: without peers the node still boots, only with
// fewer trusted peers.
func (s *Schedule) fetchPeerInfo(ctx context.Context) (schedule.Outcome, error) {
	peers, err := s.db.FetchPeerLeaders(ctx, s.settings.Hostname)
	if err != nil {
		s.logger.Warn("peer leaders unavailable", "error", err)
		s.peers = []eventdb.PeerInfo{}
		return schedule.Done, nil
	}
	s.peers = peers
	s.logger.Info("peer leaders fetched", "count", len(peers))
	return schedule.Done, nil
}

func (s *Schedule) setNodeSecrets(context.Context) (schedule.Outcome, error) {
	if s.identity == nil {
		return schedule.Done, errors.New("host identity not loaded")
	}
	if err := nodeconfig.WriteFile(s.path(nodeconfig.TopologyKeyFile), []byte(s.identity.NetworkKey)); err != nil {
		return schedule.Done, fmt.Errorf("write topology key: %w", err)
	}
	secret := nodeconfig.NodeSecret{BFT: nodeconfig.BFT{SigningKey: s.identity.SigningKey}}
	if err := nodeconfig.WriteYAML(s.path(nodeconfig.SecretFile), secret); err != nil {
		return schedule.Done, fmt.Errorf("write node secret: %w", err)
	}
	return schedule.Done, nil
}

func (s *Schedule) setNodeConfig(ctx context.Context) (schedule.Outcome, error) {
	if s.identity == nil {
		return schedule.Done, errors.New("host identity not loaded")
	}
	ip, err := s.lookupIP(ctx, s.settings.Hostname)
	if err != nil {
		return schedule.Done, fmt.Errorf("resolve host address: %w", err)
	}

	hosts := make([]string, 0, len(s.peers))
	for _, p := range s.peers {
		hosts = append(hosts, p.Hostname)
	}
	cfg := s.template(nodeconfig.Params{
		Storage:       s.settings.Storage,
		RestListen:    fmt.Sprintf("%s:%d", ip, s.settings.RestPort),
		JRPCListen:    fmt.Sprintf("%s:%d", ip, s.settings.JRPCPort),
		PublicAddress: p2pAddress(s.settings.Hostname, s.settings.P2PPort),
		TrustedPeers:  trustedPeerAddresses(s.leadership, hosts, s.settings.P2PPort),
		NodeKeyFile:   s.path(nodeconfig.TopologyKeyFile),
	})
	if pl := cfg.Mempool.PersistentLog; pl != nil {
		if err := nodeconfig.EnsureDir(pl.Dir); err != nil {
			return schedule.Done, fmt.Errorf("create persistent log dir: %w", err)
		}
	}
	if err := nodeconfig.WriteYAML(s.path(nodeconfig.ConfigFile), cfg); err != nil {
		return schedule.Done, fmt.Errorf("write node config: %w", err)
	}
	s.logger.Info("node config written", "trusted_peers", len(cfg.P2P.Bootstrap.TrustedPeers))
	return schedule.Done, nil
}

func (s *Schedule) fetchUpcomingElection(ctx context.Context) (schedule.Outcome, error) {
	e, err := s.db.FetchUpcomingElection(ctx)
	if err != nil {
		return schedule.Done, fmt.Errorf("fetch upcoming election: %w", err)
	}
	s.election = &e
	s.logger.Info("election fetched", "election_id", e.ID, "name", e.Name)
	return schedule.Done, nil
}

func (s *Schedule) fetchVoteplanProposals(context.Context) (schedule.Outcome, error) {
	return schedule.Done, fmt.Errorf("fetch vote plan proposals: %w", ErrNotImplemented)
}

// generateBlock0 reuses block0 when the election already carries one and
// otherwise encodes a new genesis and publishes it.
func (s *Schedule) generateBlock0(ctx context.Context) (schedule.Outcome, error) {
	if s.election == nil {
		return schedule.Done, errors.New("election not loaded")
	}
	block0Path := s.path(nodeconfig.Block0File)
	if s.election.HasBlock0() {
		if err := nodeconfig.WriteFile(block0Path, s.election.Block0); err != nil {
			return schedule.Done, fmt.Errorf("write block0: %w", err)
		}
		s.block0Path = block0Path
		s.logger.Info("block0 already published", "hash", s.election.Block0Hash)
		return schedule.Done, nil
	}
	if s.election.VotingStart == nil {
		return schedule.Done, errors.New("election has no voting start time")
	}
	if s.identity == nil {
		return schedule.Done, errors.New("host identity not loaded")
	}

	leaders := []string{s.identity.PublicKey}
	for _, p := range s.peers {
		if p.ConsensusKey != "" {
			leaders = append(leaders, p.ConsensusKey)
		}
	}
	genesis, err := nodeconfig.NewGenesis(*s.election.VotingStart, leaders, nil)
	if err != nil {
		return schedule.Done, err
	}
	genesisPath := s.path(nodeconfig.GenesisFile)
	if err := nodeconfig.WriteYAML(genesisPath, genesis); err != nil {
		return schedule.Done, fmt.Errorf("write genesis: %w", err)
	}

	if err := s.keys.GenesisEncode(ctx, genesisPath, block0Path); err != nil {
		return schedule.Done, err
	}
	hash, err := s.keys.GenesisHash(ctx, block0Path)
	if err != nil {
		return schedule.Done, err
	}
	block0, err := os.ReadFile(block0Path)
	if err != nil {
		return schedule.Done, fmt.Errorf("read block0: %w", err)
	}
	if err := s.db.InsertBlock0(ctx, s.election.ID, block0, hash); err != nil {
		return schedule.Done, fmt.Errorf("publish block0: %w", err)
	}
	s.election.Block0 = block0
	s.election.Block0Hash = hash
	s.block0Path = block0Path
	s.logger.Info("block0 published", "hash", hash, "bytes", len(block0))

	if s.mirror != nil {
		prefix := fmt.Sprintf("elections/%d/", s.election.ID)
		if err := s.mirror.PutFile(ctx, prefix+nodeconfig.Block0File, block0Path, "application/octet-stream"); err != nil {
			return schedule.Done, fmt.Errorf("mirror block0: %w", err)
		}
		if err := s.mirror.PutFile(ctx, prefix+nodeconfig.GenesisFile, genesisPath, "application/yaml"); err != nil {
			return schedule.Done, fmt.Errorf("mirror genesis: %w", err)
		}
	}
	return schedule.Done, nil
}

func (s *Schedule) generateVoteplan(ctx context.Context) (schedule.Outcome, error) {
	if s.election == nil {
		return schedule.Done, errors.New("election not loaded")
	}
	e := s.election
	if e.VotingStart == nil || e.VotingEnd == nil {
		return schedule.Done, errors.New("election has no voting window")
	}
	var tallyingEnd time.Time
	if e.TallyingEnd != nil {
		tallyingEnd = *e.TallyingEnd
	}
	plan, err := nodeconfig.NewVotePlan(*e.VotingStart, *e.VotingEnd, tallyingEnd, DefaultVotingToken, s.proposals)
	if err != nil {
		return schedule.Done, err
	}
	planPath := s.path(nodeconfig.VotePlanFile)
	if err := nodeconfig.WriteYAML(planPath, plan); err != nil {
		return schedule.Done, fmt.Errorf("write vote plan: %w", err)
	}
	cert, err := s.keys.VotePlanCertificate(ctx, planPath)
	if err != nil {
		return schedule.Done, err
	}
	if err := nodeconfig.WriteFile(s.path(nodeconfig.VotePlanCertFile), []byte(cert+"\n")); err != nil {
		return schedule.Done, fmt.Errorf("write vote plan certificate: %w", err)
	}
	return schedule.Done, nil
}

// getBlock0 writes the snapshot's block0. A snapshot taken before leader0
// published block0 is refreshed here, keeping the rest of the snapshot.
func (s *Schedule) getBlock0(ctx context.Context) (schedule.Outcome, error) {
	if s.election == nil {
		return schedule.Done, errors.New("election not loaded")
	}
	if !s.election.HasBlock0() {
		e, err := s.db.FetchUpcomingElection(ctx)
		if err != nil {
			return schedule.Done, fmt.Errorf("refresh election %d: %w", s.election.ID, err)
		}
		if e.ID != s.election.ID || !e.HasBlock0() {
			return schedule.Done, fmt.Errorf("block0 not published for election %d", s.election.ID)
		}
		s.election.Block0, s.election.Block0Hash = e.Block0, e.Block0Hash
	}
	block0Path := s.path(nodeconfig.Block0File)
	if err := nodeconfig.WriteFile(block0Path, s.election.Block0); err != nil {
		return schedule.Done, fmt.Errorf("write block0: %w", err)
	}
	s.block0Path = block0Path
	s.logger.Info("block0 fetched", "hash", s.election.Block0Hash)
	return schedule.Done, nil
}

func (s *Schedule) waitForVoting(context.Context) (schedule.Outcome, error) {
	if s.election == nil || s.election.VotingStart == nil {
		return schedule.Done, errors.New("election has no voting start time")
	}
	if start := *s.election.VotingStart; s.now().Before(start) {
		return schedule.Done, fmt.Errorf("voting starts at %s", start.UTC().Format(time.RFC3339))
	}
	return schedule.Done, nil
}

func (s *Schedule) voting(ctx context.Context) (schedule.Outcome, error) {
	if s.block0Path == "" {
		return schedule.Done, errors.New("block0 not available")
	}
	err := s.ledger.StartLeader(ctx, s.path(nodeconfig.SecretFile), s.path(nodeconfig.ConfigFile), s.block0Path)
	if err != nil {
		return schedule.Done, fmt.Errorf("start ledger: %w", err)
	}
	return schedule.Done, nil
}

func (s *Schedule) tally(context.Context) (schedule.Outcome, error) {
	if s.election == nil || s.election.VotingEnd == nil {
		return schedule.Done, errors.New("election has no voting end time")
	}
	if end := *s.election.VotingEnd; s.now().Before(end) {
		return schedule.Done, fmt.Errorf("voting ends at %s", end.UTC().Format(time.RFC3339))
	}
	s.logger.Info("voting ended", "election_id", s.election.ID)
	return schedule.Done, nil
}

func (s *Schedule) cleanup(context.Context) (schedule.Outcome, error) {
	if err := s.db.Close(); err != nil {
		return schedule.Done, fmt.Errorf("close event db: %w", err)
	}
	return schedule.Done, nil
}
