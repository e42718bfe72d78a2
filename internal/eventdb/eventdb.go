// Package eventdb queries the shared election datastore (EventDB) on behalf of
// a single voting node schedule.
package eventdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-core-sub000/internal/platform/postgres"
)

// DB is the subset of *sql.DB used by queries.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var errNotOpen = errors.New("eventdb connection is not open")

const (
	// LeaderHostnamePattern matches the hostnames of leader nodes, in Postgres regex
	// syntax. Queries apply it case-insensitively.
	LeaderHostnamePattern = `^leader[0-9]+$`

	selectHostIdentityQuery = `SELECT hostname, seckey, pubkey, netkey, COALESCE(ip_address, '')
	 FROM voting_node
	 WHERE lower(hostname) = $1`

	insertHostIdentityQuery = `INSERT INTO voting_node (hostname, seckey, pubkey, netkey, ip_address)
	 VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	 ON CONFLICT (hostname) DO NOTHING`

	electionColumns = `row_id, name, start_time, end_time, registration_snapshot_time, snapshot_start,
	 voting_start, voting_end, tallying_end, block0, COALESCE(block0_hash, ''),
	 COALESCE(committee_size, 0), COALESCE(committee_threshold, 0)`

	selectOngoingElectionQuery = `SELECT ` + electionColumns + `
	 FROM event
	 WHERE voting_start < $1 AND (voting_end IS NULL OR voting_end > $1)
	 ORDER BY voting_start ASC
	 LIMIT 1`

	selectUpcomingElectionQuery = `SELECT ` + electionColumns + `
	 FROM event
	 WHERE voting_start > $1
	 ORDER BY voting_start ASC
	 LIMIT 1`

	selectPeerLeadersQuery = `SELECT hostname, pubkey, COALESCE(ip_address, '')
	 FROM voting_node
	 WHERE hostname ~* '` + LeaderHostnamePattern + `' AND lower(hostname) <> $1
	 ORDER BY hostname ASC`

	updateBlock0Query = `UPDATE event SET block0 = $1, block0_hash = $2 WHERE row_id = $3`
)

type Store struct {
	logger *slog.Logger
	cfg    postgres.Config
	open   func(context.Context, postgres.Config) (*sql.DB, error)
	now    func() time.Time

	mu   sync.Mutex
	conn *sql.DB
}

func New(logger *slog.Logger, cfg postgres.Config) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger: logger,
		cfg:    cfg,
		open:   postgres.Open,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Open connects to the datastore, reusing an open connection that still pings.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		if err := s.conn.PingContext(ctx); err == nil {
			return nil
		}
		_ = s.conn.Close()
		s.conn = nil
	}

	conn, err := s.open(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.cfg.Redacted(), err)
	}
	s.conn = conn
	s.logger.Debug("eventdb connected", "url", s.cfg.Redacted())
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	s.logger.Debug("eventdb closed")
	return nil
}

func (s *Store) db() (DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, errNotOpen
	}
	return s.conn, nil
}

func (s *Store) FetchHostIdentity(ctx context.Context, hostname string) (Identity, error) {
	db, err := s.db()
	if err != nil {
		return Identity{}, err
	}
	hostname = NormalizeHostname(hostname)
	if hostname == "" {
		return Identity{}, errors.New("hostname is required")
	}

	var id Identity
	err = db.QueryRowContext(ctx, selectHostIdentityQuery, hostname).Scan(
		&id.Hostname,
		&id.SigningKey,
		&id.PublicKey,
		&id.NetworkKey,
		&id.IPAddress,
	)
	if err != nil {
		return Identity{}, fmt.Errorf("fetch host identity %s: %w", hostname, handleNotFound(err))
	}
	return id, nil
}

func (s *Store) InsertHostIdentity(ctx context.Context, id Identity) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	if err := id.validate(); err != nil {
		return err
	}
	id.Hostname = NormalizeHostname(id.Hostname)
	if _, err := db.ExecContext(
		ctx,
		insertHostIdentityQuery,
		id.Hostname,
		id.SigningKey,
		id.PublicKey,
		id.NetworkKey,
		id.IPAddress,
	); err != nil {
		return fmt.Errorf("insert host identity %s: %w", id.Hostname, err)
	}
	return nil
}

// FetchUpcomingElection returns the election whose voting is under way, or
// failing that, the one with the nearest future voting start.
func (s *Store) FetchUpcomingElection(ctx context.Context) (Election, error) {
	db, err := s.db()
	if err != nil {
		return Election{}, err
	}
	now := s.now()

	election, err := scanElection(db.QueryRowContext(ctx, selectOngoingElectionQuery, now))
	if err == nil {
		return election, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Election{}, fmt.Errorf("fetch ongoing election: %w", err)
	}

	election, err = scanElection(db.QueryRowContext(ctx, selectUpcomingElectionQuery, now))
	if err != nil {
		return Election{}, fmt.Errorf("fetch upcoming election: %w", err)
	}
	return election, nil
}

// FetchPeerLeaders lists leader nodes other than exclude, ordered by hostname.
func (s *Store) FetchPeerLeaders(ctx context.Context, exclude string) ([]PeerInfo, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, selectPeerLeadersQuery, NormalizeHostname(exclude))
	if err != nil {
		return nil, fmt.Errorf("list peer leaders: %w", err)
	}
	defer rows.Close()

	peers := make([]PeerInfo, 0)
	for rows.Next() {
		var p PeerInfo
		if err := rows.Scan(&p.Hostname, &p.ConsensusKey, &p.IPAddress); err != nil {
			return nil, fmt.Errorf("scan peer leader: %w", err)
		}
		peers = append(peers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list peer leaders: %w", err)
	}
	return peers, nil
}

// InsertBlock0 publishes the genesis block of an election.
func (s *Store) InsertBlock0(ctx context.Context, electionID int64, block0 []byte, hash string) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	if len(block0) == 0 {
		return errors.New("block0 is empty")
	}
	if strings.TrimSpace(hash) == "" {
		return errors.New("block0 hash is required")
	}

	res, err := db.ExecContext(ctx, updateBlock0Query, block0, hash, electionID)
	if err != nil {
		return fmt.Errorf("insert block0 for election %d: %w", electionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert block0 for election %d: %w", electionID, err)
	}
	if n == 0 {
		return fmt.Errorf("insert block0 for election %d: %w", electionID, ErrNotFound)
	}
	return nil
}

// NormalizeHostname is the form hostnames are stored and looked up in.
func NormalizeHostname(hostname string) string {
	return strings.ToLower(strings.TrimSpace(hostname))
}

func (id Identity) validate() error {
	switch {
	case strings.TrimSpace(id.Hostname) == "":
		return errors.New("hostname is required")
	case strings.TrimSpace(id.SigningKey) == "":
		return errors.New("signing key is required")
	case strings.TrimSpace(id.PublicKey) == "":
		return errors.New("public key is required")
	case strings.TrimSpace(id.NetworkKey) == "":
		return errors.New("network key is required")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanElection(row scanner) (Election, error) {
	var (
		e            Election
		start        sql.NullTime
		end          sql.NullTime
		registration sql.NullTime
		snapshot     sql.NullTime
		votingStart  sql.NullTime
		votingEnd    sql.NullTime
		tallyingEnd  sql.NullTime
	)
	if err := row.Scan(
		&e.ID,
		&e.Name,
		&start,
		&end,
		&registration,
		&snapshot,
		&votingStart,
		&votingEnd,
		&tallyingEnd,
		&e.Block0,
		&e.Block0Hash,
		&e.CommitteeSize,
		&e.CommitteeThreshold,
	); err != nil {
		return Election{}, handleNotFound(err)
	}
	e.StartTime = timePtr(start)
	e.EndTime = timePtr(end)
	e.RegistrationSnapshotTime = timePtr(registration)
	e.SnapshotStart = timePtr(snapshot)
	e.VotingStart = timePtr(votingStart)
	e.VotingEnd = timePtr(votingEnd)
	e.TallyingEnd = timePtr(tallyingEnd)
	return e, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
