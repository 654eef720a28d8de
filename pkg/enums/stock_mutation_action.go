package enums

import "fmt"

// StockMutationAction classifies an audit row in stock_mutations.
type StockMutationAction string

const (
	StockActionSale             StockMutationAction = "sale"
	StockActionRollback         StockMutationAction = "rollback"
	StockActionManualAdjustment StockMutationAction = "manual_adjustment"
	StockActionExternalSyncIn   StockMutationAction = "external_sync_in"
	StockActionExternalSyncOut  StockMutationAction = "external_sync_out"
)

var validStockMutationActions = []StockMutationAction{
	StockActionSale,
	StockActionRollback,
	StockActionManualAdjustment,
	StockActionExternalSyncIn,
	StockActionExternalSyncOut,
}

// String implements fmt.Stringer.
func (a StockMutationAction) String() string {
	return string(a)
}

// IsValid reports whether the value matches the stock_mutation_action enum.
func (a StockMutationAction) IsValid() bool {
	for _, candidate := range validStockMutationActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseStockMutationAction converts raw input into StockMutationAction.
func ParseStockMutationAction(value string) (StockMutationAction, error) {
	for _, candidate := range validStockMutationActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock mutation action %q", value)
}
