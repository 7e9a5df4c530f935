// Package roster stores class snapshots in SQLite: the initial seat layout
// the dashboard loads at startup, and optionally the layout it last saw.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"seatboard/pkg/types"
)

// Store reads and writes class snapshots
// TECHNICAL DISCOVERY: reads run concurrently on the pool; every write goes
// through one goroutine to avoid SQLite write contention
type Store struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	logger       *zap.SugaredLogger

	closed bool
	mu     sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error // nil for fire-and-forget writes
}

// Open opens (creating if needed) the database at cfg.Path and applies
// the embedded migrations.
func Open(cfg Config, logger *zap.SugaredLogger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create roster directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open roster database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := validateSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		logger:       logger,
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeChannel:
			s.run(op)
		case <-s.shutdown:
			// Writes queued before Close still land
			for {
				select {
				case op := <-s.writeChannel:
					s.run(op)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) run(op writeOperation) {
	err := op.operation(s.db)
	if op.result != nil {
		op.result <- err
	} else if err != nil {
		s.logger.Warnw("Roster background write failed", "error", err)
	}
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// executeWrite queues a write and waits for it.
func (s *Store) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	result := make(chan error, 1)
	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrStoreClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SaveSnapshot replaces the stored layout of snapshot.ClassID.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot types.Snapshot) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		return saveSnapshot(ctx, db, snapshot)
	})
}

// SaveSnapshotAsync queues a replace without waiting. Reports
// ErrWriteTimeout when the write queue is full.
func (s *Store) SaveSnapshotAsync(snapshot types.Snapshot) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	op := writeOperation{operation: func(db *sql.DB) error {
		return saveSnapshot(context.Background(), db, snapshot)
	}}
	select {
	case s.writeChannel <- op:
		return nil
	default:
		return ErrWriteTimeout
	}
}

func saveSnapshot(ctx context.Context, db *sql.DB, snapshot types.Snapshot) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO classes (id, total_capacity, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET total_capacity = excluded.total_capacity, updated_at = CURRENT_TIMESTAMP
	`, snapshot.ClassID, snapshot.TotalCapacity)
	if err != nil {
		return fmt.Errorf("failed to upsert class: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM seat_assignments WHERE class_id = ?", snapshot.ClassID); err != nil {
		return fmt.Errorf("failed to clear seat assignments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO seat_assignments (class_id, student_id, name, seat_number, score)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare seat insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, occ := range snapshot.Occupants {
		var studentID sql.NullInt64
		if occ.ID != nil {
			studentID = sql.NullInt64{Int64: *occ.ID, Valid: true}
		}
		var seat sql.NullInt64
		if occ.SeatNumber != nil {
			seat = sql.NullInt64{Int64: int64(*occ.SeatNumber), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, snapshot.ClassID, studentID, occ.Name, seat, occ.Score); err != nil {
			return fmt.Errorf("failed to insert seat assignment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the stored layout of classID.
func (s *Store) LoadSnapshot(ctx context.Context, classID string) (types.Snapshot, error) {
	snapshot := types.Snapshot{ClassID: classID, Occupants: []types.OccupantPayload{}}

	err := s.db.QueryRowContext(ctx, "SELECT total_capacity FROM classes WHERE id = ?", classID).
		Scan(&snapshot.TotalCapacity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Snapshot{}, ErrClassNotFound
		}
		return types.Snapshot{}, fmt.Errorf("failed to query class: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, name, seat_number, score
		FROM seat_assignments
		WHERE class_id = ?
		ORDER BY seat_number IS NULL, seat_number, id
	`, classID)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to query seat assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			studentID sql.NullInt64
			seat      sql.NullInt64
			occ       types.OccupantPayload
		)
		if err := rows.Scan(&studentID, &occ.Name, &seat, &occ.Score); err != nil {
			return types.Snapshot{}, fmt.Errorf("failed to scan seat assignment: %w", err)
		}
		if studentID.Valid {
			id := studentID.Int64
			occ.ID = &id
		}
		if seat.Valid {
			n := int(seat.Int64)
			occ.SeatNumber = &n
		}
		snapshot.Occupants = append(snapshot.Occupants, occ)
	}
	if err := rows.Err(); err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to read seat assignments: %w", err)
	}
	return snapshot, nil
}

// ListClassIDs returns every stored class id in order.
func (s *Store) ListClassIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM classes ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query classes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan class id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadAll reads every stored class snapshot.
func (s *Store) LoadAll(ctx context.Context) ([]types.Snapshot, error) {
	ids, err := s.ListClassIDs(ctx)
	if err != nil {
		return nil, err
	}
	snapshots := make([]types.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.LoadSnapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	return s.db.PingContext(ctx)
}

// Close stops the writer and closes the database. Writes already queued
// are applied before the database closes.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}

// SnapshotFromView converts a class read model into a storable snapshot.
func SnapshotFromView(view types.ClassView) types.Snapshot {
	snapshot := types.Snapshot{ClassID: view.ClassID, TotalCapacity: view.TotalCapacity}
	for _, seat := range view.Seats {
		if seat.Occupant.IsEmpty() {
			continue
		}
		n := seat.Number
		occ := types.OccupantPayload{Name: seat.Occupant.Name(), SeatNumber: &n, Score: seat.Occupant.Score()}
		if id, ok := seat.Occupant.ID(); ok {
			occ.ID = &id
		}
		snapshot.Occupants = append(snapshot.Occupants, occ)
	}
	return snapshot
}
