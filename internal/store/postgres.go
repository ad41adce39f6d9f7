package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/savannacommerce/pool-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// tier schedules and settlement outcomes are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.Pool) error {
	tiers, err := json.Marshal(p.Tiers)
	if err != nil {
		return fmt.Errorf("marshal tiers: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO pools (id, product_id, product_category, location, organizer_id,
		                    target_quantity, min_participants, max_participants,
		                    opens_at, closes_at, lock_grace_seconds,
		                    base_price, tiers, state,
		                    committed_quantity, participant_count,
		                    failure_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		         $12::NUMERIC, $13, $14, $15, $16, $17, $18)`,
		p.ID, p.ProductID, p.ProductCategory, p.Location, p.OrganizerID,
		p.TargetQuantity, p.MinParticipants, p.MaxParticipants,
		p.OpensAt, p.ClosesAt, p.LockGraceSeconds,
		p.BasePrice.String(), tiers, string(p.State),
		p.CommittedQuantity, p.ParticipantCount,
		p.FailureReason, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("pool %s: %w", p.ID, ErrAlreadyExists)
	}
	return err
}

const poolColumns = `id, product_id, product_category, location, organizer_id,
	target_quantity, min_participants, max_participants,
	opens_at, closes_at, lock_grace_seconds,
	base_price::TEXT, tiers, state,
	committed_quantity, participant_count,
	locked_at, final_unit_price::TEXT,
	failure_reason, created_at`

func scanPool(row pgx.Row) (*model.Pool, error) {
	var p model.Pool
	var basePrice, state string
	var finalPrice *string
	var tiers []byte

	err := row.Scan(&p.ID, &p.ProductID, &p.ProductCategory, &p.Location, &p.OrganizerID,
		&p.TargetQuantity, &p.MinParticipants, &p.MaxParticipants,
		&p.OpensAt, &p.ClosesAt, &p.LockGraceSeconds,
		&basePrice, &tiers, &state,
		&p.CommittedQuantity, &p.ParticipantCount,
		&p.LockedAt, &finalPrice,
		&p.FailureReason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.BasePrice, _ = decimal.NewFromString(basePrice)
	p.State = model.PoolState(state)
	if finalPrice != nil {
		d, _ := decimal.NewFromString(*finalPrice)
		p.FinalUnitPrice = &d
	}
	if err := json.Unmarshal(tiers, &p.Tiers); err != nil {
		return nil, fmt.Errorf("unmarshal tiers: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE id = $1`, id)
	p, err := scanPool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) listPools(ctx context.Context, query string, args ...any) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.listPools(ctx,
		`SELECT `+poolColumns+` FROM pools ORDER BY created_at DESC`)
}

func (s *PostgresStore) ListPoolsByState(ctx context.Context, state model.PoolState) ([]model.Pool, error) {
	return s.listPools(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE state = $1 ORDER BY created_at DESC`,
		string(state))
}

func (s *PostgresStore) UpdatePool(ctx context.Context, p *model.Pool) error {
	var finalPrice *string
	if p.FinalUnitPrice != nil {
		v := p.FinalUnitPrice.String()
		finalPrice = &v
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE pools
		 SET state = $2, committed_quantity = $3, participant_count = $4,
		     locked_at = $5, final_unit_price = $6::NUMERIC, failure_reason = $7
		 WHERE id = $1`,
		p.ID, string(p.State), p.CommittedQuantity, p.ParticipantCount,
		p.LockedAt, finalPrice, p.FailureReason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pool %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpsertCommitment(ctx context.Context, c *model.Commitment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO commitments (pool_id, participant_id, quantity, source, status, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (pool_id, participant_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity, source = EXCLUDED.source,
		               status = EXCLUDED.status, joined_at = EXCLUDED.joined_at`,
		c.PoolID, c.ParticipantID, c.Quantity, string(c.Source), string(c.Status), c.JoinedAt,
	)
	return err
}

func scanCommitments(rows pgx.Rows) ([]model.Commitment, error) {
	var result []model.Commitment
	for rows.Next() {
		var c model.Commitment
		var source, status string
		if err := rows.Scan(&c.PoolID, &c.ParticipantID, &c.Quantity,
			&source, &status, &c.JoinedAt); err != nil {
			return nil, err
		}
		c.Source = model.CommitmentSource(source)
		c.Status = model.CommitmentStatus(status)
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetCommitment(ctx context.Context, poolID, participantID string) (*model.Commitment, error) {
	var c model.Commitment
	var source, status string

	err := s.pool.QueryRow(ctx,
		`SELECT pool_id, participant_id, quantity, source, status, joined_at
		 FROM commitments WHERE pool_id = $1 AND participant_id = $2`,
		poolID, participantID).
		Scan(&c.PoolID, &c.ParticipantID, &c.Quantity, &source, &status, &c.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("commitment %s/%s: %w", poolID, participantID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	c.Source = model.CommitmentSource(source)
	c.Status = model.CommitmentStatus(status)
	return &c, nil
}

func (s *PostgresStore) ListCommitments(ctx context.Context, poolID string) ([]model.Commitment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pool_id, participant_id, quantity, source, status, joined_at
		 FROM commitments WHERE pool_id = $1 ORDER BY joined_at`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCommitments(rows)
}

func (s *PostgresStore) UpdateCommitmentStatus(ctx context.Context, poolID, participantID string, status model.CommitmentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE commitments SET status = $3 WHERE pool_id = $1 AND participant_id = $2`,
		poolID, participantID, string(status),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("commitment %s/%s: %w", poolID, participantID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ReleaseCommitments(ctx context.Context, poolID string, from, to model.CommitmentStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE commitments SET status = $3 WHERE pool_id = $1 AND status = $2`,
		poolID, string(from), string(to),
	)
	return err
}

func (s *PostgresStore) CountActiveAutoCommitments(ctx context.Context, participantID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM commitments
		 WHERE participant_id = $1 AND status = 'active' AND source = 'auto'`,
		participantID).Scan(&count)
	return count, err
}

func (s *PostgresStore) CreateRule(ctx context.Context, r *model.AutoEnrollmentRule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auto_enrollment_rules
		   (id, participant_id, product_category, location,
		    max_quantity_per_pool, max_active_auto_commitments, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.ParticipantID, r.ProductCategory, r.Location,
		r.MaxQuantityPerPool, r.MaxActiveAutoCommitments, r.Enabled,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("rule %s: %w", r.ID, ErrAlreadyExists)
	}
	return err
}

func (s *PostgresStore) ListEnabledRules(ctx context.Context, productCategory string) ([]model.AutoEnrollmentRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, participant_id, product_category, location,
		        max_quantity_per_pool, max_active_auto_commitments, enabled
		 FROM auto_enrollment_rules
		 WHERE enabled AND product_category = $1 ORDER BY id`, productCategory)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.AutoEnrollmentRule
	for rows.Next() {
		var r model.AutoEnrollmentRule
		if err := rows.Scan(&r.ID, &r.ParticipantID, &r.ProductCategory, &r.Location,
			&r.MaxQuantityPerPool, &r.MaxActiveAutoCommitments, &r.Enabled); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *PostgresStore) CreateSettlementRecord(ctx context.Context, rec *model.SettlementRecord) error {
	outcomes, err := json.Marshal(rec.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO settlement_records
		   (pool_id, final_unit_price, outcomes, succeeded_count, failed_count, settled_at)
		 VALUES ($1, $2::NUMERIC, $3, $4, $5, $6)`,
		rec.PoolID, rec.FinalUnitPrice.String(), outcomes,
		rec.SucceededCount, rec.FailedCount, rec.SettledAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("settlement %s: %w", rec.PoolID, ErrAlreadyExists)
	}
	return err
}

func (s *PostgresStore) GetSettlementRecord(ctx context.Context, poolID string) (*model.SettlementRecord, error) {
	var rec model.SettlementRecord
	var price string
	var outcomes []byte

	err := s.pool.QueryRow(ctx,
		`SELECT pool_id, final_unit_price::TEXT, outcomes, succeeded_count, failed_count, settled_at
		 FROM settlement_records WHERE pool_id = $1`, poolID).
		Scan(&rec.PoolID, &price, &outcomes, &rec.SucceededCount, &rec.FailedCount, &rec.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("settlement %s: %w", poolID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rec.FinalUnitPrice, _ = decimal.NewFromString(price)
	if err := json.Unmarshal(outcomes, &rec.Outcomes); err != nil {
		return nil, fmt.Errorf("unmarshal outcomes: %w", err)
	}
	return &rec, nil
}
