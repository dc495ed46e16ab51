package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/store"
)

// PostgresChordStore implements the pipeline.ChordStore interface using a
// PostgreSQL database as the storage backend.
//
// AddResult must fire the callback exactly once even when the final two
// results arrive concurrently, so each report runs in a transaction that
// first locks the chord row. That serializes the insert-and-count per
// chord. The completing report enqueues the callback task and deletes
// the chord row inside the same transaction: if the enqueue fails the
// whole report rolls back, and a straggler arriving after the delete
// gets ErrChordNotFound.
type PostgresChordStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresChordStore creates a new PostgreSQL implementation of the ChordStore interface.
// Unlike the row stores it requires a *sql.DB rather than a DBTX, because
// AddResult manages its own transaction.
// If logger is nil, a default logger will be used.
func NewPostgresChordStore(db *sql.DB, logger *slog.Logger) *PostgresChordStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresChordStore{
		db:     db,
		logger: logger.With(slog.String("component", "chord_store")),
	}
}

// Ensure PostgresChordStore implements pipeline.ChordStore interface
var _ pipeline.ChordStore = (*PostgresChordStore)(nil)

// Create implements pipeline.ChordStore.Create
func (s *PostgresChordStore) Create(ctx context.Context, chord *pipeline.Chord) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO chords (id, expected, callback_kind, callback_payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		chord.ID,
		chord.Expected,
		string(chord.CallbackKind),
		[]byte(chord.CallbackPayload),
		chord.CreatedAt,
	)
	if err != nil {
		log.Error("failed to create chord",
			slog.String("error", err.Error()),
			slog.String("chord_id", chord.ID.String()))
		return MapError(err)
	}

	return nil
}

// AddResult implements pipeline.ChordStore.AddResult
// It records (or replaces, keyed by entity) one result. The report that
// brings the distinct result count up to the expected size enqueues the
// callback task and deletes the chord in the same transaction.
// Returns store.ErrChordNotFound if the chord does not exist.
func (s *PostgresChordStore) AddResult(ctx context.Context, id uuid.UUID, result pipeline.Result) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin chord transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Error("failed to roll back chord transaction",
				slog.String("error", err.Error()),
				slog.String("chord_id", id.String()))
		}
	}()

	// Lock the chord row so concurrent reports for the same group are
	// applied one at a time.
	var expected int
	var callbackKind string
	var callbackPayload []byte
	err = tx.QueryRowContext(ctx, `
		SELECT expected, callback_kind, callback_payload
		FROM chords
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&expected, &callbackKind, &callbackPayload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrChordNotFound
		}
		return err
	}

	produced, err := json.Marshal(result.Produced)
	if err != nil {
		return fmt.Errorf("failed to marshal produced refs: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chord_results (chord_id, entity_id, ok, error, produced)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chord_id, entity_id)
		DO UPDATE SET ok = EXCLUDED.ok, error = EXCLUDED.error, produced = EXCLUDED.produced
	`, id, result.EntityID, result.OK, result.Err, produced)
	if err != nil {
		log.Error("failed to record chord result",
			slog.String("error", err.Error()),
			slog.String("chord_id", id.String()),
			slog.String("entity_id", result.EntityID.String()))
		return MapError(err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chord_results WHERE chord_id = $1`, id).Scan(&count); err != nil {
		return err
	}

	if count < expected {
		return tx.Commit()
	}

	results, err := s.loadResults(ctx, tx, id)
	if err != nil {
		return err
	}

	job, err := pipeline.NewCallbackJob(queue.Kind(callbackKind), callbackPayload, results)
	if err != nil {
		return err
	}
	if err := NewPostgresJobStore(tx, s.logger).Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue callback task: %w", err)
	}

	// Results go with the chord via ON DELETE CASCADE.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chords WHERE id = $1`, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chord transaction: %w", err)
	}

	log.Debug("chord completed",
		slog.String("chord_id", id.String()),
		slog.Int("results", len(results)))

	return nil
}

func (s *PostgresChordStore) loadResults(ctx context.Context, tx *sql.Tx, id uuid.UUID) ([]pipeline.Result, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT entity_id, ok, error, produced
		FROM chord_results
		WHERE chord_id = $1
		ORDER BY entity_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows, s.logger)

	var results []pipeline.Result
	for rows.Next() {
		var r pipeline.Result
		var errMsg sql.NullString
		var produced []byte
		if err := rows.Scan(&r.EntityID, &r.OK, &errMsg, &produced); err != nil {
			return nil, err
		}
		r.Err = errMsg.String
		if len(produced) > 0 {
			if err := json.Unmarshal(produced, &r.Produced); err != nil {
				return nil, fmt.Errorf("failed to unmarshal produced refs: %w", err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
