package planner

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/grupomobel/inventario/pkg/ledger"
	"github.com/grupomobel/inventario/pkg/quantity"
)

// Config holds planner behavior settings.
type Config struct {
	// IVARate is the sales tax rate applied to purchase orders.
	IVARate float64 `yaml:"iva_rate"`
	// LotSheetName is the worksheet read by lot uploads.
	LotSheetName string `yaml:"lot_sheet_name"`
}

// DefaultConfig returns the standard Mexican IVA rate.
func DefaultConfig() *Config {
	return &Config{
		IVARate:      0.16,
		LotSheetName: "Sheet1",
	}
}

// Planner derives purchasing data from raw volumetry: it explodes
// production orders into required material totals, rebuilds cached
// quantifications, and computes outstanding purchase requirements.
type Planner struct {
	storage Storage
	logger  *zap.Logger
	config  *Config
}

// New creates a new planner.
func New(storage Storage, logger *zap.Logger, config *Config) *Planner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Planner{
		storage: storage,
		logger:  logger,
		config:  config,
	}
}

// UpsertVolumetry stores one measurement record with every quantity
// normalized to the fixed scale and the running total recomputed. The
// dependent quantification rebuild is the caller's (usually the
// worker's) responsibility, not a synchronous side effect here.
func (p *Planner) UpsertVolumetry(ctx context.Context, record *VolumetryRecord) error {
	if record.ClientID == "" || record.SiteID == "" {
		return ledger.NewValidationError("volumetry", "client and site are required", "")
	}
	if record.Prototype == "" {
		return ledger.NewValidationError("prototype", "prototype is empty", "")
	}
	if err := ledger.ValidateMaterialID(record.MaterialID); err != nil {
		return err
	}

	total := quantity.Zero
	for area, aq := range record.Areas {
		aq.Factory = quantity.Fixed(aq.Factory)
		aq.Installation = quantity.Fixed(aq.Installation)
		aq.Delivery = quantity.Fixed(aq.Delivery)
		record.Areas[area] = aq
		total = quantity.SumFixed(total, aq.Factory, aq.Installation, aq.Delivery)
	}
	record.Total = total
	record.UpdatedAt = time.Now()
	if record.ID == "" {
		record.ID = ledger.NewRecordID()
		record.CreatedAt = record.UpdatedAt
	}

	if err := p.storage.UpsertVolumetry(ctx, record); err != nil {
		return ledger.NewStorageError("upsert_volumetry", "failed to persist volumetry", err)
	}

	p.logger.Info("volumetry upserted",
		zap.String("client_id", record.ClientID),
		zap.String("site_id", record.SiteID),
		zap.String("prototype", record.Prototype),
		zap.String("material_id", record.MaterialID),
	)
	return nil
}

// Explosion returns the current required-material rollup for an order.
func (p *Planner) Explosion(ctx context.Context, orderID string) ([]ExplosionRecord, error) {
	records, err := p.storage.ListExplosionByOrder(ctx, orderID)
	if err != nil {
		return nil, ledger.NewStorageError("list_explosion", "failed to load explosion records", err)
	}
	return records, nil
}

// Quantification returns the cached aggregation for one key.
func (p *Planner) Quantification(ctx context.Context, clientID, siteID, prototype string) (*QuantificationRecord, error) {
	record, err := p.storage.GetQuantification(ctx, clientID, siteID, prototype)
	if err != nil {
		if errors.Is(err, ErrQuantificationNotFound) {
			return nil, ErrQuantificationNotFound
		}
		return nil, ledger.NewStorageError("get_quantification", "failed to load quantification", err)
	}
	return record, nil
}

// ivaRate returns the configured tax rate as a decimal.
func (p *Planner) ivaRate() decimal.Decimal {
	return decimal.NewFromFloat(p.config.IVARate)
}

func (p *Planner) loadOrder(ctx context.Context, orderID string) (*ProductionOrder, error) {
	order, err := p.storage.GetProductionOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, ledger.NewStorageError("get_order", "failed to load production order", err)
	}
	return order, nil
}
