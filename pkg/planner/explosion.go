package planner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/grupomobel/inventario/pkg/ledger"
	"github.com/grupomobel/inventario/pkg/quantity"
)

// Explode recomputes the required-material rollup for one production
// order from its lot composition and the site's volumetry. Records are
// rebuilt in full and upserted per material. An order without lot
// composition is a silent no-op: its explosion simply stays absent.
func (p *Planner) Explode(ctx context.Context, orderID string) error {
	order, err := p.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}

	counts := order.LotCounts
	if len(counts) == 0 {
		p.logger.Info("explosion skipped, order has no lot composition",
			zap.String("order_id", orderID),
		)
		return nil
	}

	records, err := p.storage.ListVolumetryBySite(ctx, order.ClientID, order.SiteID)
	if err != nil {
		return ledger.NewStorageError("list_volumetry", "failed to load site volumetry", err)
	}

	// Aggregate per material: area -> prototype -> contribution.
	byMaterial := make(map[string]*ExplosionRecord)
	for _, record := range records {
		count, ok := counts[record.Prototype]
		if !ok {
			continue
		}
		multiplier := quantity.Fixed(int64(count))

		explosion := byMaterial[record.MaterialID]
		if explosion == nil {
			explosion = &ExplosionRecord{
				ID:         ledger.NewRecordID(),
				OrderID:    orderID,
				MaterialID: record.MaterialID,
				Areas:      make(map[string]map[string]AreaContribution),
				Total:      quantity.Zero,
			}
			byMaterial[record.MaterialID] = explosion
		}

		for area, aq := range record.Areas {
			factory := quantity.Fixed(aq.Factory.Mul(multiplier))
			installation := quantity.Fixed(aq.Installation.Mul(multiplier))
			contribution := quantity.SumFixed(factory, installation)
			if contribution.Sign() <= 0 {
				continue
			}

			if explosion.Areas[area] == nil {
				explosion.Areas[area] = make(map[string]AreaContribution)
			}
			explosion.Areas[area][record.Prototype] = AreaContribution{
				Factory:      factory,
				Installation: installation,
			}
			explosion.Total = quantity.SumFixed(explosion.Total, contribution)
		}
	}

	for _, explosion := range byMaterial {
		if len(explosion.Areas) == 0 {
			continue
		}
		explosion.UpdatedAt = time.Now()
		if err := p.storage.UpsertExplosion(ctx, explosion); err != nil {
			return ledger.NewStorageError("upsert_explosion", "failed to persist explosion record", err)
		}
	}

	p.logger.Info("explosion recomputed",
		zap.String("order_id", orderID),
		zap.Int("materials", len(byMaterial)),
	)
	return nil
}
