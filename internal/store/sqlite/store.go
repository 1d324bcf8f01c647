package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/serverdeck/serverdeck/internal/listing"
	"github.com/serverdeck/serverdeck/internal/store"
	_ "modernc.org/sqlite"
)

// Store implements store.Store using SQLite.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// New creates a new SQLite-backed store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

// NewWithDB creates a store using an existing database connection.
func NewWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	return s, nil
}

// NewInMemory creates a new in-memory SQLite store (useful for testing).
func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// Every pooled connection gets its own :memory: database, so the pool
	// must stay on a single connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

// initialize creates the necessary tables and indexes.
func (s *Store) initialize() error {
	schema := `
		CREATE TABLE IF NOT EXISTS servers (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			address TEXT,
			map TEXT,
			region TEXT,
			players INTEGER NOT NULL DEFAULT 0,
			max_players INTEGER NOT NULL DEFAULT 0,
			rank INTEGER NOT NULL DEFAULT 0,
			last_wipe DATETIME,
			next_wipe DATETIME,
			modded INTEGER NOT NULL DEFAULT 0,
			official INTEGER NOT NULL DEFAULT 0,
			is_favorite INTEGER NOT NULL DEFAULT 0,
			is_subscribed INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_servers_rank ON servers(rank);
		CREATE INDEX IF NOT EXISTS idx_servers_players ON servers(players DESC);
		CREATE INDEX IF NOT EXISTS idx_servers_favorite ON servers(is_favorite);
		CREATE INDEX IF NOT EXISTS idx_servers_subscribed ON servers(is_subscribed);

		CREATE TABLE IF NOT EXISTS remote_keys (
			partition TEXT PRIMARY KEY,
			next_page TEXT,
			prev_page TEXT,
			last_updated DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sync_operations (
			id TEXT NOT NULL,
			family TEXT NOT NULL,
			target_id TEXT NOT NULL,
			is_add INTEGER NOT NULL DEFAULT 0,
			token TEXT,
			state TEXT NOT NULL DEFAULT 'pending',
			queued_at DATETIME NOT NULL,
			PRIMARY KEY (family, target_id)
		);

		CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			server_id INTEGER NOT NULL,
			label TEXT,
			fire_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reminders_fire_at ON reminders(fire_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertServers inserts or wholesale-replaces server records by id.
// The is_favorite/is_subscribed columns of existing rows are left alone:
// those flags are locally authoritative and only change through
// UpdateFavorite/UpdateSubscription.
func (s *Store) UpsertServers(ctx context.Context, servers []listing.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}
	if len(servers) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO servers (
			id, name, address, map, region, players, max_players, rank,
			last_wipe, next_wipe, modded, official, is_favorite, is_subscribed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			map = excluded.map,
			region = excluded.region,
			players = excluded.players,
			max_players = excluded.max_players,
			rank = excluded.rank,
			last_wipe = excluded.last_wipe,
			next_wipe = excluded.next_wipe,
			modded = excluded.modded,
			official = excluded.official
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, srv := range servers {
		var nextWipe sql.NullTime
		if srv.NextWipe != nil {
			nextWipe = sql.NullTime{Time: *srv.NextWipe, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			srv.ID, srv.Name, srv.Address, srv.Map, srv.Region,
			srv.Players, srv.MaxPlayers, srv.Rank,
			srv.LastWipe, nextWipe, srv.Modded, srv.Official,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert server %d: %w", srv.ID, err)
		}
	}

	return tx.Commit()
}

// GetServer retrieves a single cached server by id.
func (s *Store) GetServer(ctx context.Context, id int64) (listing.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return listing.Server{}, store.ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, map, region, players, max_players, rank,
			last_wipe, next_wipe, modded, official, is_favorite, is_subscribed
		FROM servers WHERE id = ?
	`, id)

	srv, err := scanServer(row)
	if err == sql.ErrNoRows {
		return listing.Server{}, store.ErrNotFound
	}
	if err != nil {
		return listing.Server{}, fmt.Errorf("failed to get server: %w", err)
	}

	return srv, nil
}

// ListServers retrieves cached servers matching the list options.
func (s *Store) ListServers(ctx context.Context, opts store.ListOptions) ([]listing.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrStoreClosed
	}

	query, args := buildListQuery(opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []listing.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, srv)
	}

	return servers, rows.Err()
}

// CountServers returns the number of cached servers.
func (s *Store) CountServers(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, store.ErrStoreClosed
	}

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM servers").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count servers: %w", err)
	}

	return count, nil
}

// UpdateFavorite sets the favorite flag of one server without touching
// any other column.
func (s *Store) UpdateFavorite(ctx context.Context, id int64, favorite bool) error {
	return s.updateFlag(ctx, "is_favorite", id, favorite)
}

// UpdateSubscription sets the subscription flag of one server without
// touching any other column.
func (s *Store) UpdateSubscription(ctx context.Context, id int64, subscribed bool) error {
	return s.updateFlag(ctx, "is_subscribed", id, subscribed)
}

func (s *Store) updateFlag(ctx context.Context, column string, id int64, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}

	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE servers SET %s = ? WHERE id = ?", column),
		value, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return store.ErrNotFound
	}

	return nil
}

// ClearServersAndKeys wipes cached servers and all continuation state.
func (s *Store) ClearServersAndKeys(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM servers"); err != nil {
		return fmt.Errorf("failed to clear servers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM remote_keys"); err != nil {
		return fmt.Errorf("failed to clear remote keys: %w", err)
	}

	return tx.Commit()
}

// RemoteKey retrieves the continuation state for a partition.
func (s *Store) RemoteKey(ctx context.Context, partition string) (store.RemoteKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return store.RemoteKey{}, store.ErrStoreClosed
	}

	var key store.RemoteKey
	var next, prev sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT partition, next_page, prev_page, last_updated
		FROM remote_keys WHERE partition = ?
	`, partition).Scan(&key.Partition, &next, &prev, &key.LastUpdated)

	if err == sql.ErrNoRows {
		return store.RemoteKey{}, store.ErrNotFound
	}
	if err != nil {
		return store.RemoteKey{}, fmt.Errorf("failed to get remote key: %w", err)
	}

	if next.Valid {
		key.NextPage = &next.String
	}
	if prev.Valid {
		key.PrevPage = &prev.String
	}

	return key, nil
}

// SetRemoteKey inserts or replaces the continuation state for a partition.
func (s *Store) SetRemoteKey(ctx context.Context, key store.RemoteKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}

	var next, prev sql.NullString
	if key.NextPage != nil {
		next = sql.NullString{String: *key.NextPage, Valid: true}
	}
	if key.PrevPage != nil {
		prev = sql.NullString{String: *key.PrevPage, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO remote_keys (partition, next_page, prev_page, last_updated)
		VALUES (?, ?, ?, ?)
	`, key.Partition, next, prev, key.LastUpdated)

	if err != nil {
		return fmt.Errorf("failed to set remote key: %w", err)
	}

	return nil
}

// ClearRemoteKeys wipes all continuation state.
func (s *Store) ClearRemoteKeys(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM remote_keys"); err != nil {
		return fmt.Errorf("failed to clear remote keys: %w", err)
	}

	return nil
}

// PendingOperations returns all pending operations of one family, oldest
// first.
func (s *Store) PendingOperations(ctx context.Context, family store.Family) ([]store.SyncOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family, target_id, is_add, token, state, queued_at
		FROM sync_operations
		WHERE family = ? AND state = ?
		ORDER BY queued_at ASC
	`, family, store.OpStatePending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}
	defer rows.Close()

	var ops []store.SyncOperation
	for rows.Next() {
		var op store.SyncOperation
		var token sql.NullString
		if err := rows.Scan(&op.ID, &op.Family, &op.TargetID, &op.Add, &token, &op.State, &op.QueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Token = token.String
		ops = append(ops, op)
	}

	return ops, rows.Err()
}

// UpsertOperation queues an operation, replacing any prior entry for the
// same (family, target) pair.
func (s *Store) UpsertOperation(ctx context.Context, op store.SyncOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}

	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.State == "" {
		op.State = store.OpStatePending
	}
	if op.QueuedAt.IsZero() {
		op.QueuedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_operations (id, family, target_id, is_add, token, state, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.Family, op.TargetID, op.Add, op.Token, op.State, op.QueuedAt)

	if err != nil {
		return fmt.Errorf("failed to queue operation: %w", err)
	}

	return nil
}

// DeleteOperation removes a queued operation. Deleting an absent entry is
// a no-op: the processor may be re-invoked after a partial prior run.
func (s *Store) DeleteOperation(ctx context.Context, family store.Family, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_operations WHERE family = ? AND target_id = ?",
		family, targetID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}

	return nil
}

// UpsertReminder inserts or replaces a raid reminder by id.
func (s *Store) UpsertReminder(ctx context.Context, r store.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO reminders (id, server_id, label, fire_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.ServerID, r.Label, r.FireAt, r.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert reminder: %w", err)
	}

	return nil
}

// DueReminders returns reminders whose fire time has passed, soonest first.
func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]store.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, server_id, label, fire_at, created_at
		FROM reminders WHERE fire_at <= ? ORDER BY fire_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	defer rows.Close()

	var reminders []store.Reminder
	for rows.Next() {
		var r store.Reminder
		var label sql.NullString
		if err := rows.Scan(&r.ID, &r.ServerID, &label, &r.FireAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		r.Label = label.String
		reminders = append(reminders, r)
	}

	return reminders, rows.Err()
}

// DeleteReminder removes a reminder by id.
func (s *Store) DeleteReminder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM reminders WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}

	return nil
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Helper functions

func buildListQuery(opts store.ListOptions) (string, []interface{}) {
	query := `
		SELECT id, name, address, map, region, players, max_players, rank,
			last_wipe, next_wipe, modded, official, is_favorite, is_subscribed
		FROM servers WHERE 1=1
	`

	var args []interface{}

	if opts.FavoritesOnly {
		query += " AND is_favorite = 1"
	}

	if opts.SubscribedOnly {
		query += " AND is_subscribed = 1"
	}

	if opts.Search != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+opts.Search+"%")
	}

	switch opts.Sort {
	case "players":
		query += " ORDER BY players DESC, id ASC"
	case "wipe":
		query += " ORDER BY last_wipe DESC, id ASC"
	case "name":
		query += " ORDER BY name COLLATE NOCASE ASC, id ASC"
	default:
		query += " ORDER BY rank ASC, id ASC"
	}

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	return query, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanServer(row rowScanner) (listing.Server, error) {
	var srv listing.Server
	var address, mapName, region sql.NullString
	var lastWipe, nextWipe sql.NullTime

	err := row.Scan(
		&srv.ID, &srv.Name, &address, &mapName, &region,
		&srv.Players, &srv.MaxPlayers, &srv.Rank,
		&lastWipe, &nextWipe, &srv.Modded, &srv.Official,
		&srv.IsFavorite, &srv.IsSubscribed,
	)
	if err != nil {
		return srv, err
	}

	srv.Address = address.String
	srv.Map = mapName.String
	srv.Region = region.String
	if lastWipe.Valid {
		srv.LastWipe = lastWipe.Time
	}
	if nextWipe.Valid {
		srv.NextWipe = &nextWipe.Time
	}

	return srv, nil
}
