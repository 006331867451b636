package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/weftlabs/weft/pkg/anchor"
	"github.com/weftlabs/weft/pkg/thread"
)

// SQLStore persists threads, anchors, and batches via database/sql. It
// works against both Postgres and SQLite: queries use $N placeholders,
// which both drivers accept, and timestamps are stored as RFC 3339 text so
// the two engines round-trip identically.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle and applies the schema.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writes through one connection.
	db.SetMaxOpenConns(1)
	return NewSQLStore(db)
}

// OpenPostgres connects to Postgres with the given DSN.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewSQLStore(db)
}

// DB exposes the underlying handle for lifecycle management.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			origin_type TEXT NOT NULL,
			origin_identity TEXT NOT NULL,
			intent TEXT NOT NULL,
			constraints TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT '',
			head_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			closed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS hops (
			thread_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			received_intent TEXT NOT NULL,
			actions TEXT NOT NULL DEFAULT '[]',
			timestamp TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			PRIMARY KEY (thread_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS anchors (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			network TEXT NOT NULL,
			batch_id TEXT NOT NULL,
			merkle_root TEXT NOT NULL,
			member_proof TEXT NOT NULL,
			tx_ref TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			submitted_at TEXT,
			confirmed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS batches (
			id TEXT PRIMARY KEY,
			network TEXT NOT NULL,
			merkle_root TEXT NOT NULL,
			thread_ids TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_status ON threads (status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_anchors_thread ON anchors (thread_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_anchors_network_status ON anchors (network, status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return err
		}
	}
	return nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func encodeTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(*t), Valid: true}
}

func decodeTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := decodeTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Put inserts a new thread. A duplicate id surfaces as ErrThreadExists.
func (s *SQLStore) Put(ctx context.Context, t *thread.Thread) error {
	constraints, err := json.Marshal(t.Constraints)
	if err != nil {
		return fmt.Errorf("encode constraints: %w", err)
	}
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM threads WHERE id = $1`, t.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return thread.ErrThreadExists
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, origin_type, origin_identity, intent, constraints, metadata, status, outcome, head_hash, created_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, string(t.OriginType), t.OriginIdentity, t.Intent,
		string(constraints), string(metadata),
		string(t.Status), string(t.Outcome), t.HeadHash,
		encodeTime(t.CreatedAt), encodeTimePtr(t.ClosedAt),
	)
	return err
}

// Get returns a thread with its hops in sequence order, or ErrNotFound.
func (s *SQLStore) Get(ctx context.Context, id string) (*thread.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, origin_type, origin_identity, intent, constraints, metadata, status, outcome, head_hash, created_at, closed_at
		FROM threads WHERE id = $1`, id)

	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, thread.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, agent_id, agent_type, received_intent, actions, timestamp, prev_hash, hash
		FROM hops WHERE thread_id = $1 ORDER BY sequence ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			hop     thread.Hop
			actions string
			ts      string
		)
		if err := rows.Scan(&hop.Sequence, &hop.AgentID, &hop.AgentType, &hop.ReceivedIntent, &actions, &ts, &hop.PrevHash, &hop.Hash); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(actions), &hop.Actions); err != nil {
			return nil, fmt.Errorf("decode hop actions: %w", err)
		}
		if hop.Timestamp, err = decodeTime(ts); err != nil {
			return nil, fmt.Errorf("decode hop timestamp: %w", err)
		}
		t.Hops = append(t.Hops, hop)
	}
	return t, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*thread.Thread, error) {
	var (
		t           thread.Thread
		constraints string
		metadata    string
		createdAt   string
		closedAt    sql.NullString
	)
	err := row.Scan(&t.ID, &t.OriginType, &t.OriginIdentity, &t.Intent,
		&constraints, &metadata, &t.Status, &t.Outcome, &t.HeadHash,
		&createdAt, &closedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(constraints), &t.Constraints); err != nil {
		return nil, fmt.Errorf("decode constraints: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if t.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if t.ClosedAt, err = decodeTimePtr(closedAt); err != nil {
		return nil, fmt.Errorf("decode closed_at: %w", err)
	}
	t.Hops = make([]thread.Hop, 0)
	return &t, nil
}

// AppendHop inserts the hop and moves the head hash in one transaction.
func (s *SQLStore) AppendHop(ctx context.Context, threadID string, hop thread.Hop, newHeadHash string) error {
	actions, err := json.Marshal(hop.Actions)
	if err != nil {
		return fmt.Errorf("encode hop actions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE threads SET head_hash = $1 WHERE id = $2`, newHeadHash, threadID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return thread.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO hops (thread_id, sequence, agent_id, agent_type, received_intent, actions, timestamp, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		threadID, hop.Sequence, hop.AgentID, hop.AgentType, hop.ReceivedIntent,
		string(actions), encodeTime(hop.Timestamp), hop.PrevHash, hop.Hash,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Close marks the thread closed with its terminal outcome.
func (s *SQLStore) Close(ctx context.Context, threadID string, outcome thread.Outcome, closedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE threads SET status = $1, outcome = $2, closed_at = $3 WHERE id = $4`,
		string(thread.StatusClosed), string(outcome), encodeTime(closedAt), threadID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return thread.ErrNotFound
	}
	return nil
}

// List returns threads matching the filter, newest first, without hops
// hydrated. Callers needing the full chain use Get.
func (s *SQLStore) List(ctx context.Context, filter thread.Filter) ([]*thread.Thread, error) {
	query := `
		SELECT id, origin_type, origin_identity, intent, constraints, metadata, status, outcome, head_hash, created_at, closed_at
		FROM threads WHERE 1=1`
	args := make([]any, 0, 3)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.OriginIdentity != "" {
		args = append(args, filter.OriginIdentity)
		query += fmt.Sprintf(" AND origin_identity = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*thread.Thread, 0)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PutAnchor inserts one anchor record.
func (s *SQLStore) PutAnchor(ctx context.Context, a *anchor.Anchor) error {
	proof, err := json.Marshal(a.MemberProof)
	if err != nil {
		return fmt.Errorf("encode member proof: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO anchors (id, thread_id, network, batch_id, merkle_root, member_proof, tx_ref, status, created_at, submitted_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.ThreadID, a.Network, a.BatchID, a.MerkleRoot, string(proof),
		a.TxRef, string(a.Status), encodeTime(a.CreatedAt),
		encodeTimePtr(a.SubmittedAt), encodeTimePtr(a.ConfirmedAt),
	)
	return err
}

// UpdateAnchor rewrites the mutable lifecycle fields of an anchor.
func (s *SQLStore) UpdateAnchor(ctx context.Context, a *anchor.Anchor) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE anchors SET tx_ref = $1, status = $2, submitted_at = $3, confirmed_at = $4 WHERE id = $5`,
		a.TxRef, string(a.Status), encodeTimePtr(a.SubmittedAt), encodeTimePtr(a.ConfirmedAt), a.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return anchor.ErrAnchorNotFound
	}
	return nil
}

const anchorColumns = `id, thread_id, network, batch_id, merkle_root, member_proof, tx_ref, status, created_at, submitted_at, confirmed_at`

func scanAnchor(row rowScanner) (*anchor.Anchor, error) {
	var (
		a           anchor.Anchor
		proof       string
		createdAt   string
		submittedAt sql.NullString
		confirmedAt sql.NullString
	)
	err := row.Scan(&a.ID, &a.ThreadID, &a.Network, &a.BatchID, &a.MerkleRoot,
		&proof, &a.TxRef, &a.Status, &createdAt, &submittedAt, &confirmedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(proof), &a.MemberProof); err != nil {
		return nil, fmt.Errorf("decode member proof: %w", err)
	}
	if a.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if a.SubmittedAt, err = decodeTimePtr(submittedAt); err != nil {
		return nil, fmt.Errorf("decode submitted_at: %w", err)
	}
	if a.ConfirmedAt, err = decodeTimePtr(confirmedAt); err != nil {
		return nil, fmt.Errorf("decode confirmed_at: %w", err)
	}
	return &a, nil
}

// ListAnchors returns every anchor for a thread, newest first.
func (s *SQLStore) ListAnchors(ctx context.Context, threadID string) ([]*anchor.Anchor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+anchorColumns+` FROM anchors WHERE thread_id = $1 ORDER BY created_at DESC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAnchors(rows)
}

// LatestAnchor returns the most recent anchor for a thread on a network,
// or ErrAnchorNotFound.
func (s *SQLStore) LatestAnchor(ctx context.Context, threadID, network string) (*anchor.Anchor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+anchorColumns+` FROM anchors WHERE thread_id = $1 AND network = $2 ORDER BY created_at DESC LIMIT 1`,
		threadID, network)
	a, err := scanAnchor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, anchor.ErrAnchorNotFound
	}
	return a, err
}

// ListAnchorsByStatus returns anchors on a network in the given state.
func (s *SQLStore) ListAnchorsByStatus(ctx context.Context, network string, status anchor.Status) ([]*anchor.Anchor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+anchorColumns+` FROM anchors WHERE network = $1 AND status = $2 ORDER BY created_at ASC`,
		network, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAnchors(rows)
}

func collectAnchors(rows *sql.Rows) ([]*anchor.Anchor, error) {
	out := make([]*anchor.Anchor, 0)
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PutBatch inserts one batch record.
func (s *SQLStore) PutBatch(ctx context.Context, b *anchor.Batch) error {
	threadIDs, err := json.Marshal(b.ThreadIDs)
	if err != nil {
		return fmt.Errorf("encode thread ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batches (id, network, merkle_root, thread_ids, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.Network, b.MerkleRoot, string(threadIDs), encodeTime(b.CreatedAt),
	)
	return err
}

// GetBatch returns a batch by id, or ErrBatchNotFound.
func (s *SQLStore) GetBatch(ctx context.Context, id string) (*anchor.Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, network, merkle_root, thread_ids, created_at FROM batches WHERE id = $1`, id)

	var (
		b         anchor.Batch
		threadIDs string
		createdAt string
	)
	err := row.Scan(&b.ID, &b.Network, &b.MerkleRoot, &threadIDs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, anchor.ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(threadIDs), &b.ThreadIDs); err != nil {
		return nil, fmt.Errorf("decode thread ids: %w", err)
	}
	if b.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	return &b, nil
}

var _ thread.Store = (*SQLStore)(nil)
var _ anchor.Store = (*SQLStore)(nil)
