package cost

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// UnitPriceTable holds the cost of one unit of each billed resource.
type UnitPriceTable struct {
	CPUCoreHour     float64   `json:"cpu_core_hour" yaml:"cpu_core_hour"`
	MemoryGBHour    float64   `json:"memory_gb_hour" yaml:"memory_gb_hour"`
	StorageGBHour   float64   `json:"storage_gb_hour" yaml:"storage_gb_hour"`
	NetworkEgressGB float64   `json:"network_egress_gb" yaml:"network_egress_gb"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"-"`
}

// Validate rejects negative prices.
func (p UnitPriceTable) Validate() error {
	if p.CPUCoreHour < 0 {
		return fmt.Errorf("cpu_core_hour must not be negative")
	}
	if p.MemoryGBHour < 0 {
		return fmt.Errorf("memory_gb_hour must not be negative")
	}
	if p.StorageGBHour < 0 {
		return fmt.Errorf("storage_gb_hour must not be negative")
	}
	if p.NetworkEgressGB < 0 {
		return fmt.Errorf("network_egress_gb must not be negative")
	}
	return nil
}

// PricingStore supplies the current unit prices.
type PricingStore interface {
	GetCurrentPrices(ctx context.Context) (UnitPriceTable, error)
}

// ErrNoPrices is returned by stores that hold no price table yet.
var ErrNoPrices = errors.New("no unit prices configured")

// PricingUnavailableError aborts a cost computation when no price table can
// be read.
type PricingUnavailableError struct {
	Err error
}

func (e *PricingUnavailableError) Error() string {
	return fmt.Sprintf("pricing unavailable: %v", e.Err)
}

func (e *PricingUnavailableError) Unwrap() error {
	return e.Err
}

// LoadPrices reads the current table and wraps any failure as a
// *PricingUnavailableError.
func LoadPrices(ctx context.Context, store PricingStore) (UnitPriceTable, error) {
	if store == nil {
		return UnitPriceTable{}, &PricingUnavailableError{Err: ErrNoPrices}
	}
	prices, err := store.GetCurrentPrices(ctx)
	if err != nil {
		return UnitPriceTable{}, &PricingUnavailableError{Err: err}
	}
	return prices, nil
}
