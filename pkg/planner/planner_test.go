package planner_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/grupomobel/inventario/pkg/ledger"
	"github.com/grupomobel/inventario/pkg/planner"
	"github.com/grupomobel/inventario/pkg/storage"
)

func newTestPlanner(t *testing.T) (*storage.MemoryStore, *planner.Planner) {
	t.Helper()
	store := storage.NewMemoryStore()
	return store, planner.New(store, zap.NewNop(), nil)
}

func seedOrder(t *testing.T, store *storage.MemoryStore, id string, counts map[string]int) {
	t.Helper()
	err := store.SaveProductionOrder(context.Background(), &planner.ProductionOrder{
		ID:        id,
		ClientID:  "CLI-1",
		SiteID:    "SITE-1",
		LotCounts: counts,
	})
	require.NoError(t, err)
}

func seedVolumetry(t *testing.T, store *storage.MemoryStore, prototype, materialID string, areas map[string]planner.AreaQuantity) {
	t.Helper()
	record := &planner.VolumetryRecord{
		ID:         ledger.NewRecordID(),
		ClientID:   "CLI-1",
		SiteID:     "SITE-1",
		Prototype:  prototype,
		MaterialID: materialID,
		Areas:      areas,
	}
	total := decimal.Zero
	for _, aq := range areas {
		total = total.Add(aq.Factory).Add(aq.Installation).Add(aq.Delivery)
	}
	record.Total = total
	require.NoError(t, store.UpsertVolumetry(context.Background(), record))
}

func area(factory, installation string) planner.AreaQuantity {
	return planner.AreaQuantity{
		Factory:      decimal.RequireFromString(factory),
		Installation: decimal.RequireFromString(installation),
	}
}

func TestExplodeMultipliesByLotCount(t *testing.T) {
	store, plan := newTestPlanner(t)
	ctx := context.Background()

	seedOrder(t, store, "ORD-1", map[string]int{"CASA-A": 3})
	seedVolumetry(t, store, "CASA-A", "MAT-1", map[string]planner.AreaQuantity{
		"COCINA":   area("2", "1"),
		"RECAMARA": area("4", "0"),
		"SIN-NADA": area("0", "0"), // zero contribution is dropped
	})

	require.NoError(t, plan.Explode(ctx, "ORD-1"))

	records, err := store.ListExplosionByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, "MAT-1", record.MaterialID)
	// (2+1)*3 + (4+0)*3 = 21
	assert.Equal(t, "21.00", record.Total.StringFixed(2))

	require.Contains(t, record.Areas, "COCINA")
	assert.NotContains(t, record.Areas, "SIN-NADA")
	cocina := record.Areas["COCINA"]["CASA-A"]
	assert.Equal(t, "6.00", cocina.Factory.StringFixed(2))
	assert.Equal(t, "3.00", cocina.Installation.StringFixed(2))
}

func TestExplodeSkipsUnmatchedPrototype(t *testing.T) {
	store, plan := newTestPlanner(t)
	ctx := context.Background()

	seedOrder(t, store, "ORD-1", map[string]int{"CASA-A": 2})
	seedVolumetry(t, store, "CASA-X", "MAT-1", map[string]planner.AreaQuantity{
		"COCINA": area("10", "0"),
	})

	require.NoError(t, plan.Explode(ctx, "ORD-1"))

	records, err := store.ListExplosionByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExplodeWithoutCompositionIsNoOp(t *testing.T) {
	store, plan := newTestPlanner(t)
	ctx := context.Background()

	seedOrder(t, store, "ORD-1", nil)
	seedVolumetry(t, store, "CASA-A", "MAT-1", map[string]planner.AreaQuantity{
		"COCINA": area("10", "0"),
	})

	require.NoError(t, plan.Explode(ctx, "ORD-1"))

	records, err := store.ListExplosionByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func seedExplosion(t *testing.T, store *storage.MemoryStore, orderID, materialID, total string) {
	t.Helper()
	err := store.UpsertExplosion(context.Background(), &planner.ExplosionRecord{
		ID:         ledger.NewRecordID(),
		OrderID:    orderID,
		MaterialID: materialID,
		Areas: map[string]map[string]planner.AreaContribution{
			"GENERAL": {"CASA-A": {Factory: decimal.RequireFromString(total)}},
		},
		Total: decimal.RequireFromString(total),
	})
	require.NoError(t, err)
}

func TestBuildRequirementsWithPartialCoverage(t *testing.T) {
	store, plan := newTestPlanner(t)
	ctx := context.Background()

	store.SeedMaterial(ledger.Material{
		ID:           "MAT-1",
		SupplierID:   "SUP-1",
		Concept:      "TORNILLO 1/2",
		Unit:         "PZA",
		Presentation: "DOCENA",
		UnitPrice:    decimal.RequireFromString("3.50"),
		Automation:   true,
	})
	seedExplosion(t, store, "ORD-1", "MAT-1", "120")

	// A prior approved purchase order already covers 48 raw units.
	require.NoError(t, store.CreatePurchaseOrder(ctx, &planner.PurchaseOrder{
		ID:         ledger.NewRecordID(),
		Folio:      1,
		OrderID:    "ORD-1",
		SupplierID: "SUP-1",
		Status:     planner.PurchaseApproved,
		Lines: []planner.PurchaseLine{
			{MaterialID: "MAT-1", Quantity: decimal.NewFromInt(4), Units: decimal.NewFromInt(48)},
		},
	}))

	requirements, err := plan.BuildRequirements(ctx, "ORD-1", "SUP-1", nil)
	require.NoError(t, err)
	require.Len(t, requirements.Lines, 1)

	line := requirements.Lines[0]
	// 120 - 48 = 72 raw units, then ceil(72/12) = 6 dozens.
	assert.Equal(t, "6", line.Quantity.String())
	assert.Equal(t, "72.00", line.Units.StringFixed(2))
	assert.Equal(t, "21.00", line.Total.StringFixed(2))

	assert.Equal(t, "21.00", requirements.Subtotal.StringFixed(2))
	assert.Equal(t, "3.36", requirements.IVA.StringFixed(2))
	assert.Equal(t, "24.36", requirements.Total.StringFixed(2))
}

func TestBuildRequirementsDropsFullyCovered(t *testing.T) {
	store, plan := newTestPlanner(t)
	ctx := context.Background()

	store.SeedMaterial(ledger.Material{
		ID: "MAT-1", SupplierID: "SUP-1", UnitPrice: decimal.NewFromInt(1),
	})
	seedExplosion(t, store, "ORD-1", "MAT-1", "50")

	require.NoError(t, store.CreatePurchaseOrder(ctx, &planner.PurchaseOrder{
		ID:         ledger.NewRecordID(),
		OrderID:    "ORD-1",
		SupplierID: "SUP-1",
		Status:     planner.PurchasePending,
		Lines: []planner.PurchaseLine{
			{MaterialID: "MAT-1", Units: decimal.NewFromInt(50)},
		},
	}))

	requirements, err := plan.BuildRequirements(ctx, "ORD-1", "SUP-1", nil)
	require.NoError(t, err)
	assert.Empty(t, requirements.Lines)
	assert.Equal(t, "0.00", requirements.Total.StringFixed(2))
}

func TestBuildRequirementsIgnoresRejectedCoverage(t *testing.T) {
	store, plan := newTestPlanner(t)
	ctx := context.Background()

	store.SeedMaterial(ledger.Material{
		ID: "MAT-1", SupplierID: "SUP-1", UnitPrice: decimal.NewFromInt(2),
	})
	seedExplosion(t, store, "ORD-1", "MAT-1", "50")

	require.NoError(t, store.CreatePurchaseOrder(ctx, &planner.PurchaseOrder{
		ID:         ledger.NewRecordID(),
		OrderID:    "ORD-1",
		SupplierID: "SUP-1",
		Status:     planner.PurchaseRejected,
		Lines: []planner.PurchaseLine{
			{MaterialID: "MAT-1", Units: decimal.NewFromInt(50)},
		},
	}))

	requirements, err := plan.BuildRequirements(ctx, "ORD-1", "SUP-1", nil)
	require.NoError(t, err)
	require.Len(t, requirements.Lines, 1)
	assert.Equal(t, "50.00", requirements.Lines[0].Quantity.StringFixed(2))
}

func TestBuildRequirementsWarnsOnMissingMaterial(t *testing.T) {
	store, plan := newTestPlanner(t)

	seedExplosion(t, store, "ORD-1", "MAT-GONE", "10")

	requirements, err := plan.BuildRequirements(context.Background(), "ORD-1", "SUP-1", nil)
	require.NoError(t, err)
	assert.Empty(t, requirements.Lines)
	require.Len(t, requirements.Warnings, 1)
	assert.Contains(t, requirements.Warnings[0], "MAT-GONE")
}

func TestBuildRequirementsDivisionFilter(t *testing.T) {
	store, plan := newTestPlanner(t)

	store.SeedMaterial(ledger.Material{
		ID: "MAT-1", SupplierID: "SUP-1", Division: planner.DivisionCarpentry,
		UnitPrice: decimal.NewFromInt(1),
	})
	store.SeedMaterial(ledger.Material{
		ID: "MAT-2", SupplierID: "SUP-1", Division: planner.DivisionEquipment,
		UnitPrice: decimal.NewFromInt(1),
	})
	seedExplosion(t, store, "ORD-1", "MAT-1", "10")
	seedExplosion(t, store, "ORD-1", "MAT-2", "10")

	requirements, err := plan.BuildRequirements(context.Background(), "ORD-1", "SUP-1",
		[]string{planner.DivisionCarpentry})
	require.NoError(t, err)
	require.Len(t, requirements.Lines, 1)
	assert.Equal(t, "MAT-1", requirements.Lines[0].MaterialID)
}

func TestCreatePurchaseOrder(t *testing.T) {
	store, plan := newTestPlanner(t)
	ctx := context.Background()

	store.SeedMaterial(ledger.Material{
		ID: "MAT-1", SupplierID: "SUP-1", UnitPrice: decimal.NewFromInt(5),
	})
	seedExplosion(t, store, "ORD-1", "MAT-1", "10")

	order, requirements, err := plan.CreatePurchaseOrder(ctx, "ORD-1", "SUP-1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), order.Folio)
	assert.Equal(t, planner.PurchasePending, order.Status)
	assert.Empty(t, requirements.Warnings)

	// The new order's coverage is now visible to the next calculation.
	followup, err := plan.BuildRequirements(ctx, "ORD-1", "SUP-1", nil)
	require.NoError(t, err)
	assert.Empty(t, followup.Lines)
}

func TestUpsertVolumetryNormalizesAndTotals(t *testing.T) {
	store, plan := newTestPlanner(t)
	ctx := context.Background()

	record := &planner.VolumetryRecord{
		ClientID:   "CLI-1",
		SiteID:     "SITE-1",
		Prototype:  "CASA-A",
		MaterialID: "MAT-1",
		Areas: map[string]planner.AreaQuantity{
			"COCINA": {
				Factory:      decimal.RequireFromString("1.005"),
				Installation: decimal.RequireFromString("2.5"),
				Delivery:     decimal.RequireFromString("0.25"),
			},
		},
	}
	require.NoError(t, plan.UpsertVolumetry(ctx, record))
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "3.76", record.Total.StringFixed(2))

	stored, err := store.ListVolumetryBySite(ctx, "CLI-1", "SITE-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "1.01", stored[0].Areas["COCINA"].Factory.StringFixed(2))
}

func TestRebuildQuantificationBucketsByDivision(t *testing.T) {
	store, plan := newTestPlanner(t)
	ctx := context.Background()

	store.SeedMaterial(ledger.Material{
		ID: "MAT-1", SupplierID: "SUP-1", Concept: "TABLERO", Unit: "PZA",
		Division: planner.DivisionCarpentry,
	})
	store.SeedMaterial(ledger.Material{
		ID: "MAT-2", SupplierID: "SUP-1", Concept: "ESTUFA", Unit: "PZA",
		Division: planner.DivisionEquipment,
	})
	seedVolumetry(t, store, "CASA-A", "MAT-1", map[string]planner.AreaQuantity{
		"COCINA": area("3", "1"),
	})
	seedVolumetry(t, store, "CASA-A", "MAT-2", map[string]planner.AreaQuantity{
		"COCINA": area("1", "0"),
	})
	// A different prototype must not leak into the rebuild.
	seedVolumetry(t, store, "CASA-B", "MAT-1", map[string]planner.AreaQuantity{
		"COCINA": area("99", "0"),
	})

	require.NoError(t, plan.RebuildQuantification(ctx, "CLI-1", "SITE-1", "CASA-A"))

	record, err := plan.Quantification(ctx, "CLI-1", "SITE-1", "CASA-A")
	require.NoError(t, err)
	require.Contains(t, record.Buckets, planner.DivisionCarpentry)
	require.Contains(t, record.Buckets, planner.DivisionEquipment)

	carpentry := record.Buckets[planner.DivisionCarpentry]
	require.Len(t, carpentry.Lines, 1)
	assert.Equal(t, "4.00", carpentry.Total.StringFixed(2))
	assert.Equal(t, "TABLERO", carpentry.Lines[0].Concept)
}

func TestQuantificationNotFound(t *testing.T) {
	_, plan := newTestPlanner(t)

	_, err := plan.Quantification(context.Background(), "CLI-1", "SITE-1", "CASA-A")
	assert.ErrorIs(t, err, planner.ErrQuantificationNotFound)
}

func buildLotSheet(t *testing.T, rows [][]interface{}) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	header := []interface{}{"MANZANA", "LOTE", "ACOMODO", "PROTOTIPO", "AREA", "ESTATUS", "PORCENTAJE"}
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &header))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	return f
}

func TestUploadLots(t *testing.T) {
	store, plan := newTestPlanner(t)
	ctx := context.Background()
	seedOrder(t, store, "ORD-1", nil)

	file := buildLotSheet(t, [][]interface{}{
		{"M1", "L1", "IZQUIERDO", "CASA-A", "85.5", "EN PROCESO", "50"},
		{"M1", "L2", "DERECHO", "CASA-A", "85.5", "EN PROCESO", "50"},
		{"M1", "L3", "DERECHO", "CASA-B", "92", "EN PROCESO", "25"},
		{"M2", "L1", "CENTRO", "CASA-A", "85.5", "EN PROCESO", "50"}, // bad laid
		{"M2", "L2", "IZQUIERDO", "", "85.5", "EN PROCESO", "50"},   // blank prototype
	})
	buffer, err := file.WriteToBuffer()
	require.NoError(t, err)

	result, err := plan.UploadLots(ctx, "ORD-1", buffer)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Inserted)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, 5, result.Errors[0].Row)
	assert.Equal(t, 6, result.Errors[1].Row)

	order, err := store.GetProductionOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"CASA-A": 2, "CASA-B": 1}, order.LotCounts)
}

func TestUploadLotsUnknownOrder(t *testing.T) {
	_, plan := newTestPlanner(t)

	file := buildLotSheet(t, nil)
	buffer, err := file.WriteToBuffer()
	require.NoError(t, err)

	_, err = plan.UploadLots(context.Background(), "ORD-MISSING", buffer)
	assert.ErrorIs(t, err, planner.ErrOrderNotFound)
}

func TestWorkerProcessesJobs(t *testing.T) {
	store, plan := newTestPlanner(t)
	ctx := context.Background()

	seedOrder(t, store, "ORD-1", map[string]int{"CASA-A": 2})
	seedVolumetry(t, store, "CASA-A", "MAT-1", map[string]planner.AreaQuantity{
		"COCINA": area("5", "0"),
	})

	worker := planner.NewWorker(plan, zap.NewNop(), 8)
	worker.Start(ctx)
	worker.Enqueue(planner.Job{Kind: planner.JobExplosion, OrderID: "ORD-1"})
	worker.Stop()

	records, err := store.ListExplosionByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "10.00", records[0].Total.StringFixed(2))
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	_, plan := newTestPlanner(t)
	worker := planner.NewWorker(plan, zap.NewNop(), 1)
	worker.Start(context.Background())
	worker.Stop()
	worker.Stop()
}
