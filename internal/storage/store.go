// Package storage is the sync service's Postgres-backed persistence
// layer: the per-document operation table and the account/session
// tables that back authentication (§4.3, §6).
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/beepshq/beeps/internal/document/oplog"
	"github.com/beepshq/beeps/internal/hlc"
)

// postgresUniqueViolation is the SQLSTATE Postgres raises on a unique
// index conflict.
const postgresUniqueViolation = "23505"

// Account is a registered principal (§1: "a document is owned by an
// authenticated principal").
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Session is an opaque bearer token bound to an account.
type Session struct {
	Token     string
	AccountID string
	ExpiresAt time.Time
}

// Store is a thread-safe handle on the sync service's Postgres pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects to databaseURL and returns a ready Store. Callers
// should run Migrate(databaseURL) before Open in a fresh environment.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: pinging postgres: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

// CreateAccount inserts a new account row. Returns ErrConflict if the
// email is already registered.
func (s *Store) CreateAccount(ctx context.Context, id, email, passwordHash string) (Account, error) {
	acct := Account{ID: id, Email: email, PasswordHash: passwordHash}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (id, email, password_hash) VALUES ($1, $2, $3)
		 RETURNING created_at`,
		id, email, passwordHash)

	if err := row.Scan(&acct.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolation {
			return Account{}, ErrConflict
		}
		return Account{}, fmt.Errorf("storage: creating account: %w", err)
	}

	s.logger.Info("account created", zap.String("account_id", id), zap.String("email", email))
	return acct, nil
}

// AccountByEmail looks up an account by email. Returns ErrNotFound if
// no such account exists.
func (s *Store) AccountByEmail(ctx context.Context, email string) (Account, error) {
	var acct Account
	row := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM accounts WHERE email = $1`, email)

	if err := row.Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("storage: looking up account: %w", err)
	}
	return acct, nil
}

// AccountByID looks up an account by its id. Returns ErrNotFound if no
// such account exists.
func (s *Store) AccountByID(ctx context.Context, id string) (Account, error) {
	var acct Account
	row := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM accounts WHERE id = $1`, id)

	if err := row.Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("storage: looking up account: %w", err)
	}
	return acct, nil
}

// CreateSession inserts a bearer session token for accountID.
func (s *Store) CreateSession(ctx context.Context, token, accountID string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (token, account_id, expires_at) VALUES ($1, $2, $3)`,
		token, accountID, expiresAt)
	if err != nil {
		return fmt.Errorf("storage: creating session: %w", err)
	}
	return nil
}

// Session looks up an unexpired session by its bearer token. Returns
// ErrNotFound if the token is unknown or has expired.
func (s *Store) Session(ctx context.Context, token string) (Session, error) {
	var sess Session
	row := s.pool.QueryRow(ctx,
		`SELECT token, account_id, expires_at FROM sessions
		 WHERE token = $1 AND expires_at > now()`, token)

	if err := row.Scan(&sess.Token, &sess.AccountID, &sess.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("storage: looking up session: %w", err)
	}
	return sess, nil
}

// EnsureDocument returns the document id owned by ownerID, creating a
// fresh document row (keyed by documentID) the first time an owner is
// seen. Every account owns exactly one Document in this implementation.
func (s *Store) EnsureDocument(ctx context.Context, ownerID, documentID string) (string, error) {
	var id string
	row := s.pool.QueryRow(ctx,
		`INSERT INTO documents (id, owner_id) VALUES ($1, $2)
		 ON CONFLICT (owner_id) DO UPDATE SET owner_id = EXCLUDED.owner_id
		 RETURNING id`,
		documentID, ownerID)

	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("storage: ensuring document: %w", err)
	}
	return id, nil
}

// InsertOps durably appends ops to documentID's operation log. Ops
// whose (wall, counter, node) key already exists are accepted as
// no-ops (§4.3: "Duplicate inserts... are accepted as no-ops"), and
// every op is persisted before this call returns, per §4.3's ordering
// invariant.
func (s *Store) InsertOps(ctx context.Context, documentID string, ops []oplog.Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: beginning push transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, op := range ops {
		body, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("storage: encoding op: %w", err)
		}
		batch.Queue(
			`INSERT INTO operations (document_id, wall, counter, node, kind, body)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (document_id, wall, counter, node) DO NOTHING`,
			documentID, op.Clock.Wall, int64(op.Clock.Counter), int64(op.Clock.Node), string(op.Kind), body)
	}

	br := tx.SendBatch(ctx, batch)
	for range ops {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("storage: inserting op: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("storage: closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: committing push transaction: %w", err)
	}
	return nil
}

// OpsSince returns every op recorded for documentID strictly newer
// than since, per node (§4.3 GET /ops), including every op from nodes
// absent from since. The per-node watermark comparison is pushed into
// the query itself so it can use operations_pull_idx
// (document_id, node, wall DESC, counter DESC) instead of scanning
// every row for the document.
func (s *Store) OpsSince(ctx context.Context, documentID string, since map[hlc.NodeID]hlc.Timestamp) ([]oplog.Op, error) {
	query, args := opsSinceQuery(documentID, since)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: querying ops: %w", err)
	}
	defer rows.Close()

	var out []oplog.Op
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("storage: scanning op: %w", err)
		}
		var op oplog.Op
		if err := json.Unmarshal(body, &op); err != nil {
			return nil, fmt.Errorf("storage: decoding op: %w", err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterating ops: %w", err)
	}
	return out, nil
}

// opsSinceQuery builds a WHERE clause with one OR-joined per-node
// watermark comparison so Postgres can use operations_pull_idx
// directly rather than filtering in Go after a full table scan. Nodes
// absent from since are matched unconditionally, per OpsSince's
// "ops from nodes absent from since" contract.
func opsSinceQuery(documentID string, since map[hlc.NodeID]hlc.Timestamp) (string, []any) {
	args := []any{documentID}
	if len(since) == 0 {
		return `SELECT body FROM operations WHERE document_id = $1`, args
	}

	nodes := make([]hlc.NodeID, 0, len(since))
	for node := range since {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	var clauses []string
	var knownNodes []string
	for _, node := range nodes {
		wm := since[node]
		args = append(args, int64(node), wm.Wall, int64(wm.Counter))
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(`(node = $%d AND (wall, counter) > ($%d, $%d))`, n-2, n-1, n))
		knownNodes = append(knownNodes, fmt.Sprintf("$%d", n-2))
	}
	clauses = append(clauses, fmt.Sprintf(`node NOT IN (%s)`, strings.Join(knownNodes, ", ")))

	query := fmt.Sprintf(`SELECT body FROM operations WHERE document_id = $1 AND (%s)`, strings.Join(clauses, " OR "))
	return query, args
}
