package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-insight/internal/cost"
	"github.com/aaronlmathis/kaptn-insight/internal/schedule"
)

type priceRow struct {
	CPUCoreHour     float64 `db:"cpu_core_hour"`
	MemoryGBHour    float64 `db:"memory_gb_hour"`
	StorageGBHour   float64 `db:"storage_gb_hour"`
	NetworkEgressGB float64 `db:"network_egress_gb"`
	UpdatedAt       int64   `db:"updated_at"`
}

// GetCurrentPrices returns the stored unit prices, or cost.ErrNoPrices when
// none have been written.
func (s *Store) GetCurrentPrices(ctx context.Context) (cost.UnitPriceTable, error) {
	var row priceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT cpu_core_hour, memory_gb_hour, storage_gb_hour, network_egress_gb, updated_at
		FROM unit_prices WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return cost.UnitPriceTable{}, cost.ErrNoPrices
	}
	if err != nil {
		return cost.UnitPriceTable{}, fmt.Errorf("failed to read unit prices: %w", err)
	}
	return cost.UnitPriceTable{
		CPUCoreHour:     row.CPUCoreHour,
		MemoryGBHour:    row.MemoryGBHour,
		StorageGBHour:   row.StorageGBHour,
		NetworkEgressGB: row.NetworkEgressGB,
		UpdatedAt:       fromMillis(row.UpdatedAt),
	}, nil
}

// PutPrices replaces the unit price table. The stored UpdatedAt is set to now.
func (s *Store) PutPrices(ctx context.Context, p cost.UnitPriceTable) (cost.UnitPriceTable, error) {
	if err := p.Validate(); err != nil {
		return cost.UnitPriceTable{}, err
	}
	p.UpdatedAt = s.now().UTC()

	_, err := s.db.NamedExecContext(ctx,
		`INSERT OR REPLACE INTO unit_prices (id, cpu_core_hour, memory_gb_hour, storage_gb_hour, network_egress_gb, updated_at)
		VALUES (1, :cpu_core_hour, :memory_gb_hour, :storage_gb_hour, :network_egress_gb, :updated_at)`,
		priceRow{
			CPUCoreHour:     p.CPUCoreHour,
			MemoryGBHour:    p.MemoryGBHour,
			StorageGBHour:   p.StorageGBHour,
			NetworkEgressGB: p.NetworkEgressGB,
			UpdatedAt:       toMillis(p.UpdatedAt),
		})
	if err != nil {
		return cost.UnitPriceTable{}, fmt.Errorf("failed to write unit prices: %w", err)
	}
	return p, nil
}

// SeedPrices stores p only when no price table exists yet.
func (s *Store) SeedPrices(ctx context.Context, p cost.UnitPriceTable) error {
	_, err := s.GetCurrentPrices(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, cost.ErrNoPrices) {
		return err
	}
	if _, err := s.PutPrices(ctx, p); err != nil {
		return err
	}
	s.logger.Info("Seeded default unit prices",
		zap.Float64("cpuCoreHour", p.CPUCoreHour),
		zap.Float64("memoryGBHour", p.MemoryGBHour),
	)
	return nil
}

// GetRetention returns the stored retention horizons, falling back to the
// defaults the store was opened with.
func (s *Store) GetRetention(ctx context.Context) (schedule.RetentionSettings, error) {
	var settings schedule.RetentionSettings
	err := s.db.GetContext(ctx, &settings,
		`SELECT minute_retention_days, hour_retention_months, day_retention_years
		FROM retention_settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return s.retentionDefaults, nil
	}
	if err != nil {
		return schedule.RetentionSettings{}, fmt.Errorf("failed to read retention settings: %w", err)
	}
	return settings, nil
}

// PutRetention replaces the retention horizons.
func (s *Store) PutRetention(ctx context.Context, settings schedule.RetentionSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO retention_settings (id, minute_retention_days, hour_retention_months, day_retention_years, updated_at)
		VALUES (1, ?, ?, ?, ?)`,
		settings.MinuteRetentionDays, settings.HourRetentionMonths, settings.DayRetentionYears, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("failed to write retention settings: %w", err)
	}
	return nil
}
