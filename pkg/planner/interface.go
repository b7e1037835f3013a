package planner

import (
	"context"

	"github.com/grupomobel/inventario/pkg/ledger"
)

// Storage is the persistence contract consumed by the planner.
type Storage interface {
	GetMaterial(ctx context.Context, materialID string) (*ledger.Material, error)

	GetProductionOrder(ctx context.Context, orderID string) (*ProductionOrder, error)
	SaveProductionOrder(ctx context.Context, order *ProductionOrder) error

	UpsertVolumetry(ctx context.Context, record *VolumetryRecord) error
	// ListVolumetryBySite returns every volumetry record for a client's
	// site, across all prototypes and materials.
	ListVolumetryBySite(ctx context.Context, clientID, siteID string) ([]VolumetryRecord, error)

	// UpsertExplosion inserts or replaces the record keyed by
	// (order, material).
	UpsertExplosion(ctx context.Context, record *ExplosionRecord) error
	ListExplosionByOrder(ctx context.Context, orderID string) ([]ExplosionRecord, error)

	// UpsertQuantification replaces the record keyed by
	// (client, site, prototype) in full.
	UpsertQuantification(ctx context.Context, record *QuantificationRecord) error
	GetQuantification(ctx context.Context, clientID, siteID, prototype string) (*QuantificationRecord, error)

	CreatePurchaseOrder(ctx context.Context, order *PurchaseOrder) error
	// ListPurchaseOrders returns the purchase orders already placed for
	// a production order and supplier, regardless of status.
	ListPurchaseOrders(ctx context.Context, orderID, supplierID string) ([]PurchaseOrder, error)

	// NextFolio shares the ledger's atomic document counters.
	NextFolio(ctx context.Context, name string) (int64, error)
}
