package square

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	EventInventoryCountUpdated = "inventory.count.updated"
	EventInventoryAdjusted     = "inventory.adjusted"
)

// WebhookEvent is the common envelope of a Square notification.
type WebhookEvent struct {
	MerchantID string           `json:"merchant_id"`
	Type       string           `json:"type"`
	EventID    string           `json:"event_id"`
	CreatedAt  string           `json:"created_at"`
	Data       webhookEventData `json:"data"`
}

type webhookEventData struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Object json.RawMessage `json:"object"`
}

// InventoryCount is one absolute count reported by inventory.count.updated.
type InventoryCount struct {
	CatalogObjectID string `json:"catalog_object_id"`
	LocationID      string `json:"location_id"`
	State           string `json:"state"`
	Quantity        string `json:"quantity"`
	CalculatedAt    string `json:"calculated_at"`
}

// InventoryAdjustment is a relative movement reported by inventory.adjusted.
type InventoryAdjustment struct {
	ID              string `json:"id"`
	CatalogObjectID string `json:"catalog_object_id"`
	LocationID      string `json:"location_id"`
	FromState       string `json:"from_state"`
	ToState         string `json:"to_state"`
	Quantity        string `json:"quantity"`
	OccurredAt      string `json:"occurred_at"`
}

// ParseWebhookEvent decodes the envelope and checks the fields every handler needs.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode square event: %w", err)
	}
	if strings.TrimSpace(event.EventID) == "" {
		return nil, errors.New("square event id missing")
	}
	if strings.TrimSpace(event.Type) == "" {
		return nil, errors.New("square event type missing")
	}
	return &event, nil
}

// OccurredAt parses created_at, falling back to now.
func (e *WebhookEvent) OccurredAt() time.Time {
	if e != nil {
		if ts, err := time.Parse(time.RFC3339Nano, e.CreatedAt); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}

// InventoryCounts extracts the in-stock counts of an inventory.count.updated event.
func (e *WebhookEvent) InventoryCounts() ([]InventoryCount, error) {
	var obj struct {
		Counts []InventoryCount `json:"inventory_counts"`
	}
	if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
		return nil, fmt.Errorf("decode inventory counts: %w", err)
	}
	counts := make([]InventoryCount, 0, len(obj.Counts))
	for _, c := range obj.Counts {
		if c.State != "" && c.State != stateInStock {
			continue
		}
		counts = append(counts, c)
	}
	return counts, nil
}

// InventoryAdjustment extracts the adjustment of an inventory.adjusted event.
func (e *WebhookEvent) InventoryAdjustment() (*InventoryAdjustment, error) {
	var obj struct {
		Adjustment *InventoryAdjustment `json:"inventory_adjustment"`
	}
	if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
		return nil, fmt.Errorf("decode inventory adjustment: %w", err)
	}
	if obj.Adjustment == nil {
		return nil, errors.New("inventory adjustment missing")
	}
	return obj.Adjustment, nil
}

// Target returns the variation/location pair of the count.
func (c InventoryCount) Target() InventoryTarget {
	return InventoryTarget{CatalogObjectID: c.CatalogObjectID, LocationID: c.LocationID}
}

// CalculatedTime parses calculated_at. ok is false when it is absent or malformed.
func (c InventoryCount) CalculatedTime() (time.Time, bool) {
	raw := strings.TrimSpace(c.CalculatedAt)
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// WholeQuantity parses Square's decimal string into whole units; fractional counts are rejected.
func (c InventoryCount) WholeQuantity() (int, error) {
	return parseWholeQuantity(c.Quantity)
}

// Target returns the variation/location pair of the adjustment.
func (a InventoryAdjustment) Target() InventoryTarget {
	return InventoryTarget{CatalogObjectID: a.CatalogObjectID, LocationID: a.LocationID}
}

// Delta returns the signed effect on the in-stock count: positive into IN_STOCK, negative out of it.
func (a InventoryAdjustment) Delta() (int, error) {
	qty, err := parseWholeQuantity(a.Quantity)
	if err != nil {
		return 0, err
	}
	switch {
	case a.ToState == stateInStock && a.FromState != stateInStock:
		return qty, nil
	case a.FromState == stateInStock && a.ToState != stateInStock:
		return -qty, nil
	default:
		return 0, nil
	}
}

func parseWholeQuantity(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("quantity missing")
	}
	if whole, frac, ok := strings.Cut(raw, "."); ok {
		if strings.Trim(frac, "0") != "" {
			return 0, fmt.Errorf("fractional quantity %q not supported", raw)
		}
		raw = whole
	}
	qty, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", raw, err)
	}
	if qty < 0 {
		return 0, fmt.Errorf("negative quantity %q", raw)
	}
	return qty, nil
}
