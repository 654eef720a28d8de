package inventory

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/stockflow-backend/pkg/enums"
)

// PoolStrategy resolves the ledger row a sales channel draws from.
// Allocating separate pools per channel is done by providing another strategy.
type PoolStrategy interface {
	Resolve(productID uuid.UUID, source enums.StockMutationSource) uuid.UUID
}

// SharedPool maps every channel onto the product's single shared counter.
type SharedPool struct{}

func (SharedPool) Resolve(productID uuid.UUID, _ enums.StockMutationSource) uuid.UUID {
	return productID
}
