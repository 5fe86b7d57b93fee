package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

// -- Data Hash Repository --

type dataHashRepoPG struct {
	pool *pgxpool.Pool
}

func NewDataHashRepo(pool *pgxpool.Pool) DataHashRepository {
	return &dataHashRepoPG{pool: pool}
}

func (r *dataHashRepoPG) Create(ctx context.Context, h *DataHash) error {
	h.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO data_hashes (
			id, data_type, original_id, hash_value, tx_hash, block_number,
			contract_address, gas_used, gas_price
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		h.ID, h.DataType, h.OriginalID, h.HashValue, h.TxHash, h.BlockNumber,
		h.ContractAddress, h.GasUsed, h.GasPrice,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
}

// -- Access Grant Repository --

type accessGrantRepoPG struct {
	pool *pgxpool.Pool
}

func NewAccessGrantRepo(pool *pgxpool.Pool) AccessGrantRepository {
	return &accessGrantRepoPG{pool: pool}
}

const grantCols = `id, grant_id, grantor_addr, grantee_addr, data_id, data_type, grant_time,
	expire_time, is_active, blockchain_tx_hash, created_at, updated_at`

func (r *accessGrantRepoPG) Create(ctx context.Context, g *AccessGrant) error {
	g.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO access_grants (
			id, grant_id, grantor_addr, grantee_addr, data_id, data_type, grant_time,
			expire_time, is_active, blockchain_tx_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		g.ID, g.GrantID, g.GrantorAddr, g.GranteeAddr, g.DataID, g.DataType, g.GrantTime,
		g.ExpireTime, g.IsActive, g.BlockchainTxHash,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("grant %s: %w", g.GrantID, ErrDuplicate)
	}
	return err
}

func (r *accessGrantRepoPG) GetByGrantID(ctx context.Context, grantID string) (*AccessGrant, error) {
	var g AccessGrant
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+grantCols+` FROM access_grants WHERE grant_id = $1`, grantID).Scan(
		&g.ID, &g.GrantID, &g.GrantorAddr, &g.GranteeAddr, &g.DataID, &g.DataType, &g.GrantTime,
		&g.ExpireTime, &g.IsActive, &g.BlockchainTxHash, &g.CreatedAt, &g.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("grant %s: %w", grantID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *accessGrantRepoPG) Deactivate(ctx context.Context, id uuid.UUID, txHash string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE access_grants SET is_active = false, blockchain_tx_hash = $2, updated_at = NOW()
		WHERE id = $1`, id, txHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Contract Repository --

type contractRepoPG struct {
	pool *pgxpool.Pool
}

func NewContractRepo(pool *pgxpool.Pool) ContractRepository {
	return &contractRepoPG{pool: pool}
}

func (r *contractRepoPG) ListActive(ctx context.Context) ([]*Contract, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, name, address, abi, network, deploy_time, is_active, created_at, updated_at
		FROM contracts WHERE is_active = true ORDER BY name, deploy_time DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Contract{}
	for rows.Next() {
		var c Contract
		if err := rows.Scan(&c.ID, &c.Name, &c.Address, &c.ABI, &c.Network, &c.DeployTime,
			&c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
