// Package postgres implements store.Store on PostgreSQL with pgx. Multi-row operations run
// in one transaction that locks the owning session row, and partial unique indexes back
// the join-code and single-active-question invariants.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/store"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store handles live session persistence.
type Store struct {
	pool   *pgxpool.Pool
	sink   store.ChangeSink
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New creates a Postgres store. sink receives changes after commit and may be nil.
func New(pool *pgxpool.Pool, sink store.ChangeSink, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, sink: sink, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (s *Store) emit(ctx context.Context, changes ...store.Change) {
	if s.sink == nil {
		return
	}
	for _, c := range changes {
		s.sink.Emit(ctx, c)
	}
}

// mapErr translates driver errors into store errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func change(table string, op store.Op, sessionID, rowID uuid.UUID, row any) store.Change {
	return store.Change{Table: table, Op: op, SessionID: sessionID, RowID: rowID, Row: row, At: time.Now()}
}

func sessionChange(op store.Op, sess *models.Session) store.Change {
	return change(store.TableSessions, op, sess.ID, sess.ID, sess)
}

func questionChange(op store.Op, q *models.Question) store.Change {
	return change(store.TableQuestions, op, q.SessionID, q.ID, q)
}

func participantChange(op store.Op, p *models.Participant) store.Change {
	return change(store.TableParticipants, op, p.SessionID, p.ID, p)
}
