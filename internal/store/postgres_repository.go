/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. It holds the SQL
 * for the funder balance ledger, the drop store, the key table with its
 * globally unique public-key index, and fee bookkeeping.
 *
 * Storage usage is reported from pg_total_relation_size over the drop tables,
 * so the admission protocol's measure-before/measure-after bracket observes
 * the physical footprint (pages, indexes, toast) rather than a logical
 * estimate.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keydrop/drop-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// bigintAmount guards the cast into the bigint money columns. An amount past
// the column range must be rejected, not stored as a negative balance.
func bigintAmount(amount uint64) (int64, error) {
	if amount > math.MaxInt64 {
		return 0, fmt.Errorf("amount %d exceeds bigint range", amount)
	}
	return int64(amount), nil
}

func (r *PostgresRepository) FindFunderBalance(ctx context.Context, funderID string) (uint64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM funder_balances WHERE funder_id = $1`, funderID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrFunderNotFound
		}
		return 0, err
	}
	return uint64(balance), nil
}

// DebitFunderBalance atomically decrements a funder's balance. The conditional
// UPDATE guarantees the balance never goes negative.
func (r *PostgresRepository) DebitFunderBalance(ctx context.Context, funderID string, amount uint64) error {
	debit, err := bigintAmount(amount)
	if err != nil {
		return err
	}
	result, err := r.db.Exec(ctx,
		`UPDATE funder_balances SET balance = balance - $2, updated_at = NOW() WHERE funder_id = $1 AND balance >= $2`,
		funderID, debit)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		if _, err := r.FindFunderBalance(ctx, funderID); err != nil {
			return err
		}
		return ErrInsufficientBalance
	}
	return nil
}

func (r *PostgresRepository) CreditFunderBalance(ctx context.Context, funderID string, amount uint64) error {
	credit, err := bigintAmount(amount)
	if err != nil {
		return err
	}
	result, err := r.db.Exec(ctx,
		`UPDATE funder_balances SET balance = balance + $2, updated_at = NOW() WHERE funder_id = $1`,
		funderID, credit)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrFunderNotFound
	}
	return nil
}

func (r *PostgresRepository) FindFeeSchedule(ctx context.Context, funderID string) (*domain.FeeSchedule, error) {
	var dropFee, keyFee int64
	err := r.db.QueryRow(ctx,
		`SELECT drop_fee, key_fee FROM fee_schedules WHERE funder_id = $1`, funderID).Scan(&dropFee, &keyFee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFeeScheduleNotFound
		}
		return nil, err
	}
	return &domain.FeeSchedule{DropFee: uint64(dropFee), KeyFee: uint64(keyFee)}, nil
}

func (r *PostgresRepository) AccrueCollectedFees(ctx context.Context, amount uint64) error {
	fee, err := bigintAmount(amount)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO collected_fees (id, total) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET total = collected_fees.total + EXCLUDED.total
	`, fee)
	return err
}

func (r *PostgresRepository) AllocateDropID(ctx context.Context) (domain.DropID, error) {
	var id int64
	if err := r.db.QueryRow(ctx, `SELECT nextval('drop_id_seq')`).Scan(&id); err != nil {
		return 0, err
	}
	return domain.DropID(id), nil
}

func (r *PostgresRepository) SaveDrop(ctx context.Context, drop *domain.Drop) error {
	payload, err := json.Marshal(drop.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var config []byte
	if drop.Config != nil {
		config, err = json.Marshal(drop.Config)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
	}
	depositPerUse, err := bigintAmount(drop.DepositPerUse)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO drops (
			id, owner_id, payload, deposit_per_use, registered_uses,
			required_compute_budget, config, metadata, funding_status,
			next_key_sequence, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			payload = EXCLUDED.payload,
			registered_uses = EXCLUDED.registered_uses,
			required_compute_budget = EXCLUDED.required_compute_budget,
			metadata = EXCLUDED.metadata,
			funding_status = EXCLUDED.funding_status,
			next_key_sequence = EXCLUDED.next_key_sequence,
			updated_at = NOW()
	`, int64(drop.ID), drop.OwnerID, payload, depositPerUse, int64(drop.RegisteredUses),
		int64(drop.RequiredComputeBudget), config, drop.Metadata, string(drop.FundingStatus),
		int64(drop.NextKeySequence))
	return err
}

func (r *PostgresRepository) FindDropByID(ctx context.Context, dropID domain.DropID) (*domain.Drop, error) {
	var (
		drop          domain.Drop
		id            int64
		payload       []byte
		config        []byte
		depositPerUse int64
		registered    int64
		computeBudget int64
		status        string
		nextSequence  int64
	)
	query := `
		SELECT id, owner_id, payload, deposit_per_use, registered_uses,
		       required_compute_budget, config, metadata, funding_status,
		       next_key_sequence, created_at, updated_at
		FROM drops WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, int64(dropID)).Scan(
		&id, &drop.OwnerID, &payload, &depositPerUse, &registered,
		&computeBudget, &config, &drop.Metadata, &status,
		&nextSequence, &drop.CreatedAt, &drop.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDropNotFound
		}
		return nil, err
	}
	drop.ID = domain.DropID(id)
	drop.DepositPerUse = uint64(depositPerUse)
	drop.RegisteredUses = uint64(registered)
	drop.RequiredComputeBudget = uint64(computeBudget)
	drop.FundingStatus = domain.FundingStatus(status)
	drop.NextKeySequence = uint64(nextSequence)
	if err := json.Unmarshal(payload, &drop.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if len(config) > 0 {
		drop.Config = &domain.DropConfig{}
		if err := json.Unmarshal(config, drop.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return &drop, nil
}

func (r *PostgresRepository) DeleteDrop(ctx context.Context, dropID domain.DropID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM drop_keys WHERE drop_id = $1`, int64(dropID)); err != nil {
		return err
	}
	result, err := tx.Exec(ctx, `DELETE FROM drops WHERE id = $1`, int64(dropID))
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrDropNotFound
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) TransitionFundingStatus(ctx context.Context, dropID domain.DropID, from, to domain.FundingStatus) (bool, error) {
	result, err := r.db.Exec(ctx,
		`UPDATE drops SET funding_status = $3, updated_at = NOW() WHERE id = $1 AND funding_status = $2`,
		int64(dropID), string(from), string(to))
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// InsertKeys writes a batch of keys inside a single transaction. The unique
// constraint on drop_keys.public_key is the global reverse index; any
// violation aborts the whole batch so no partial insert is visible.
func (r *PostgresRepository) InsertKeys(ctx context.Context, dropID domain.DropID, keys []domain.KeyInfo) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, key := range keys {
		allowance, err := bigintAmount(key.Allowance)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO drop_keys (public_key, drop_id, remaining_uses, last_used, allowance, sequence_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, key.PublicKey, int64(dropID), int64(key.RemainingUses), int64(key.LastUsed),
			allowance, int64(key.SequenceID))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w: %s", ErrDuplicateKey, key.PublicKey)
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) RemoveKeys(ctx context.Context, dropID domain.DropID, publicKeys []string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM drop_keys WHERE drop_id = $1 AND public_key = ANY($2)`,
		int64(dropID), publicKeys)
	return err
}

func (r *PostgresRepository) FindDropIDByPublicKey(ctx context.Context, publicKey string) (domain.DropID, bool, error) {
	var dropID int64
	err := r.db.QueryRow(ctx, `SELECT drop_id FROM drop_keys WHERE public_key = $1`, publicKey).Scan(&dropID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return domain.DropID(dropID), true, nil
}

func (r *PostgresRepository) FindKeysByDropID(ctx context.Context, dropID domain.DropID) ([]domain.KeyInfo, error) {
	rows, err := r.db.Query(ctx, `
		SELECT public_key, remaining_uses, last_used, allowance, sequence_id
		FROM drop_keys WHERE drop_id = $1 ORDER BY sequence_id
	`, int64(dropID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.KeyInfo
	for rows.Next() {
		var (
			key           domain.KeyInfo
			remainingUses int64
			lastUsed      int64
			allowance     int64
			sequenceID    int64
		)
		if err := rows.Scan(&key.PublicKey, &remainingUses, &lastUsed, &allowance, &sequenceID); err != nil {
			return nil, err
		}
		key.RemainingUses = uint64(remainingUses)
		key.LastUsed = uint64(lastUsed)
		key.Allowance = uint64(allowance)
		key.SequenceID = uint64(sequenceID)
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *PostgresRepository) CountKeys(ctx context.Context, dropID domain.DropID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM drop_keys WHERE drop_id = $1`, int64(dropID)).Scan(&count)
	return count, err
}

func (r *PostgresRepository) AppendTokenID(ctx context.Context, dropID domain.DropID, tokenID string) error {
	return r.mutateNFTTokenIDs(ctx, dropID, func(ids []string) ([]string, error) {
		return append(ids, tokenID), nil
	})
}

func (r *PostgresRepository) RemoveLastTokenID(ctx context.Context, dropID domain.DropID) error {
	return r.mutateNFTTokenIDs(ctx, dropID, func(ids []string) ([]string, error) {
		if len(ids) == 0 {
			return nil, fmt.Errorf("drop %d has no queued token ids", dropID)
		}
		return ids[:len(ids)-1], nil
	})
}

// mutateNFTTokenIDs performs a load-modify-store on the drop's payload. The
// service serializes admission operations, so concurrent mutation of the same
// drop is not a concern here.
func (r *PostgresRepository) mutateNFTTokenIDs(ctx context.Context, dropID domain.DropID, fn func([]string) ([]string, error)) error {
	drop, err := r.FindDropByID(ctx, dropID)
	if err != nil {
		return err
	}
	if drop.Payload.NFT == nil {
		return fmt.Errorf("drop %d has no nft payload", dropID)
	}
	tokenIDs, err := fn(drop.Payload.NFT.TokenIDs)
	if err != nil {
		return err
	}
	drop.Payload.NFT.TokenIDs = tokenIDs
	return r.SaveDrop(ctx, drop)
}

func (r *PostgresRepository) IncrementRegisteredUses(ctx context.Context, dropID domain.DropID, n uint64) error {
	result, err := r.db.Exec(ctx,
		`UPDATE drops SET registered_uses = registered_uses + $2, updated_at = NOW() WHERE id = $1`,
		int64(dropID), int64(n))
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrDropNotFound
	}
	return nil
}

func (r *PostgresRepository) StorageUsage(ctx context.Context) (uint64, error) {
	var bytes int64
	err := r.db.QueryRow(ctx,
		`SELECT pg_total_relation_size('drops') + pg_total_relation_size('drop_keys')`).Scan(&bytes)
	if err != nil {
		return 0, err
	}
	return uint64(bytes), nil
}
