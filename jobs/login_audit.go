package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connect-commerce/connect-admin/internal/auth"
	jobmetrics "github.com/connect-commerce/connect-admin/internal/jobs"
	"github.com/connect-commerce/connect-admin/internal/platform/db"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LoginAuditStore persists login audit rows.
type LoginAuditStore interface {
	InsertLogin(ctx context.Context, event auth.LoginEvent) error
	PruneLogins(ctx context.Context, before time.Time) (int64, error)
}

// PGLoginAuditStore writes admin_logins in PostgreSQL.
type PGLoginAuditStore struct {
	pool *pgxpool.Pool
}

// NewPGLoginAuditStore constructs a PGLoginAuditStore.
func NewPGLoginAuditStore(pool *pgxpool.Pool) *PGLoginAuditStore {
	return &PGLoginAuditStore{pool: pool}
}

// InsertLogin stores event and bumps admins.last_login_at in one transaction.
// Replays of the same token id are ignored.
func (s *PGLoginAuditStore) InsertLogin(ctx context.Context, event auth.LoginEvent) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO admin_logins (admin_id, token_id, ip, user_agent, logged_in_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (token_id) DO NOTHING`,
			event.AdminID, event.TokenID, event.IP, event.UserAgent, event.At)
		if err != nil {
			return fmt.Errorf("jobs: insert admin login: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE admins SET last_login_at = GREATEST(COALESCE(last_login_at, $2), $2) WHERE id = $1`, event.AdminID, event.At); err != nil {
			return fmt.Errorf("jobs: update last login: %w", err)
		}
		return nil
	})
}

// PruneLogins deletes rows older than before.
func (s *PGLoginAuditStore) PruneLogins(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM admin_logins WHERE logged_in_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("jobs: prune admin logins: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LoginAuditJob handles the login audit tasks.
type LoginAuditJob struct {
	Store   LoginAuditStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLoginAuditJob wires dependencies for the login audit handlers.
func NewLoginAuditJob(store LoginAuditStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *LoginAuditJob {
	return &LoginAuditJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// HandleLoginRecorded processes TaskLoginRecorded tasks.
func (j *LoginAuditJob) HandleLoginRecorded(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("login audit: handler not configured")
	}
	var event auth.LoginEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("login audit: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if event.AdminID <= 0 || event.TokenID == "" {
		return fmt.Errorf("login audit: incomplete event: %w", asynq.SkipRetry)
	}
	if event.At.IsZero() {
		event.At = j.now()
	}

	tracker := j.metrics().Track(TaskLoginRecorded)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if err := j.Store.InsertLogin(ctx, event); err != nil {
		j.logger().Error("record login", slog.Int64("admin_id", event.AdminID), slog.Any("error", err))
		return err
	}
	j.logger().Debug("login recorded", slog.Int64("admin_id", event.AdminID), slog.String("token_id", event.TokenID))
	return nil
}

// HandlePrune processes TaskLoginAuditPrune tasks.
func (j *LoginAuditJob) HandlePrune(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("login audit: handler not configured")
	}
	var payload LoginAuditPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("login audit prune: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.metrics().Track(TaskLoginAuditPrune)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := payload.Cutoff(j.now())
	n, err := j.Store.PruneLogins(ctx, cutoff)
	if err != nil {
		j.logger().Error("prune login audit", slog.Any("error", err))
		return err
	}
	j.metrics().AddPruned(n)
	j.logger().Info("login audit pruned", slog.Int64("rows", n), slog.Time("before", cutoff))
	return nil
}

func (j *LoginAuditJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LoginAuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *LoginAuditJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
