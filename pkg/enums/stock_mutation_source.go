package enums

import "fmt"

// StockMutationSource identifies which entry point caused a ledger mutation.
type StockMutationSource string

const (
	StockSourceCheckout     StockMutationSource = "checkout"
	StockSourceWebhook      StockMutationSource = "webhook"
	StockSourceAdmin        StockMutationSource = "admin"
	StockSourceScheduledJob StockMutationSource = "scheduled_job"
)

var validStockMutationSources = []StockMutationSource{
	StockSourceCheckout,
	StockSourceWebhook,
	StockSourceAdmin,
	StockSourceScheduledJob,
}

// String implements fmt.Stringer.
func (s StockMutationSource) String() string {
	return string(s)
}

// IsValid reports whether the value matches the stock_mutation_source enum.
func (s StockMutationSource) IsValid() bool {
	for _, candidate := range validStockMutationSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStockMutationSource converts raw input into StockMutationSource.
func ParseStockMutationSource(value string) (StockMutationSource, error) {
	for _, candidate := range validStockMutationSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock mutation source %q", value)
}
