package chain

import (
	"context"

	"github.com/google/uuid"
)

type DataHashRepository interface {
	Create(ctx context.Context, h *DataHash) error
}

type AccessGrantRepository interface {
	Create(ctx context.Context, g *AccessGrant) error
	// GetByGrantID returns the grant regardless of its active flag.
	GetByGrantID(ctx context.Context, grantID string) (*AccessGrant, error)
	Deactivate(ctx context.Context, id uuid.UUID, txHash string) error
}

type ContractRepository interface {
	ListActive(ctx context.Context) ([]*Contract, error)
}
