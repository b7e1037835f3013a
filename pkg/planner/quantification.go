package planner

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/grupomobel/inventario/pkg/ledger"
	"github.com/grupomobel/inventario/pkg/quantity"
)

// RebuildQuantification recomputes the cached material aggregation for
// one (client, site, prototype) key from scratch and replaces whatever
// was stored before. Materials missing from the master keep their
// quantities under the production bucket with a blank concept rather
// than aborting the rebuild.
func (p *Planner) RebuildQuantification(ctx context.Context, clientID, siteID, prototype string) error {
	if clientID == "" || siteID == "" || prototype == "" {
		return ledger.NewValidationError("quantification", "client, site and prototype are required", "")
	}

	records, err := p.storage.ListVolumetryBySite(ctx, clientID, siteID)
	if err != nil {
		return ledger.NewStorageError("list_volumetry", "failed to load site volumetry", err)
	}

	buckets := make(map[string]QuantificationBucket)
	for _, record := range records {
		if record.Prototype != prototype {
			continue
		}
		if record.Total.Sign() <= 0 {
			continue
		}

		line := QuantificationLine{
			MaterialID: record.MaterialID,
			Total:      record.Total,
		}
		division := DivisionProduction
		material, err := p.storage.GetMaterial(ctx, record.MaterialID)
		switch {
		case err == nil:
			line.Concept = material.Concept
			line.Unit = material.Unit
			if material.Division != "" {
				division = material.Division
			}
		case errors.Is(err, ledger.ErrMaterialNotFound):
			// keep the quantity visible under the default bucket
		default:
			return ledger.NewStorageError("get_material", "failed to load material", err)
		}

		bucket := buckets[division]
		bucket.Lines = append(bucket.Lines, line)
		bucket.Total = quantity.SumFixed(bucket.Total, line.Total)
		buckets[division] = bucket
	}

	for division, bucket := range buckets {
		sort.Slice(bucket.Lines, func(i, j int) bool {
			return bucket.Lines[i].MaterialID < bucket.Lines[j].MaterialID
		})
		buckets[division] = bucket
	}

	record := &QuantificationRecord{
		ID:        ledger.NewRecordID(),
		ClientID:  clientID,
		SiteID:    siteID,
		Prototype: prototype,
		Buckets:   buckets,
		UpdatedAt: time.Now(),
	}
	if err := p.storage.UpsertQuantification(ctx, record); err != nil {
		return ledger.NewStorageError("upsert_quantification", "failed to persist quantification", err)
	}

	p.logger.Info("quantification rebuilt",
		zap.String("client_id", clientID),
		zap.String("site_id", siteID),
		zap.String("prototype", prototype),
		zap.Int("buckets", len(buckets)),
	)
	return nil
}
