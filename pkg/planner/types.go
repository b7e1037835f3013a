package planner

import (
	"time"

	"github.com/shopspring/decimal"
)

// Production buckets used when grouping quantified materials. A
// material's division on the master record selects its bucket.
const (
	DivisionProduction      = "production"
	DivisionKitchenDelivery = "kitchen_delivery"
	DivisionCarpentry       = "carpentry"
	DivisionEquipment       = "equipment"
)

// AreaQuantity is the per-work-area measurement triple for one
// prototype and material.
type AreaQuantity struct {
	Factory      decimal.Decimal `json:"factory"`
	Installation decimal.Decimal `json:"installation"`
	Delivery     decimal.Decimal `json:"delivery"`
}

// VolumetryRecord is raw measurement input: how much of a material one
// prototype needs, broken down by work area, within a client's site.
// Total is the denormalized running sum across areas.
type VolumetryRecord struct {
	ID         string                  `json:"id" db:"id"`
	ClientID   string                  `json:"client_id" db:"client_id"`
	SiteID     string                  `json:"site_id" db:"site_id"`
	Prototype  string                  `json:"prototype" db:"prototype"`
	MaterialID string                  `json:"material_id" db:"material_id"`
	Areas      map[string]AreaQuantity `json:"areas" db:"areas"`
	Total      decimal.Decimal         `json:"total" db:"total"`
	CreatedAt  time.Time               `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at" db:"updated_at"`
}

// AreaContribution is one prototype's contribution to an area inside an
// explosion record, already multiplied by the order's lot count.
type AreaContribution struct {
	Factory      decimal.Decimal `json:"factory"`
	Installation decimal.Decimal `json:"installation"`
}

// ExplosionRecord is the required-quantity rollup for one material in
// one production order: per area, per prototype, plus the grand total.
// Treated as a cache and recomputed in full whenever the order's lot
// composition changes.
type ExplosionRecord struct {
	ID         string                                 `json:"id" db:"id"`
	OrderID    string                                 `json:"order_id" db:"order_id"`
	MaterialID string                                 `json:"material_id" db:"material_id"`
	Areas      map[string]map[string]AreaContribution `json:"areas" db:"areas"`
	Total      decimal.Decimal                        `json:"total" db:"total"`
	UpdatedAt  time.Time                              `json:"updated_at" db:"updated_at"`
}

// QuantificationLine is one material inside a quantification bucket.
type QuantificationLine struct {
	MaterialID string          `json:"material_id"`
	Concept    string          `json:"concept"`
	Unit       string          `json:"unit"`
	Total      decimal.Decimal `json:"total"`
}

// QuantificationBucket groups the lines of one production division
// with their running total.
type QuantificationBucket struct {
	Lines []QuantificationLine `json:"lines"`
	Total decimal.Decimal      `json:"total"`
}

// QuantificationRecord is the cached aggregation of volumetry for one
// (client, site, prototype) key, bucketed by production division. It is
// always rebuilt in full, never patched incrementally.
type QuantificationRecord struct {
	ID        string                          `json:"id" db:"id"`
	ClientID  string                          `json:"client_id" db:"client_id"`
	SiteID    string                          `json:"site_id" db:"site_id"`
	Prototype string                          `json:"prototype" db:"prototype"`
	Buckets   map[string]QuantificationBucket `json:"buckets" db:"buckets"`
	UpdatedAt time.Time                       `json:"updated_at" db:"updated_at"`
}

// Laid sides accepted on home-production lot rows.
const (
	LaidLeft  = "IZQUIERDO"
	LaidRight = "DERECHO"
)

// HomeLot is one home (dwelling) inside a production order, uploaded
// from the lot spreadsheet.
type HomeLot struct {
	Block      string          `json:"block"`
	Lot        string          `json:"lot"`
	Laid       string          `json:"laid"`
	Prototype  string          `json:"prototype"`
	Area       decimal.Decimal `json:"area"`
	Status     string          `json:"status"`
	Percentage decimal.Decimal `json:"percentage"`
}

// ProductionOrder ties a client's site to the homes being built there.
// LotCounts is the derived prototype-to-count composition that drives
// the explosion.
type ProductionOrder struct {
	ID        string         `json:"id" db:"id"`
	ClientID  string         `json:"client_id" db:"client_id"`
	SiteID    string         `json:"site_id" db:"site_id"`
	Lots      []HomeLot      `json:"lots" db:"lots"`
	LotCounts map[string]int `json:"lot_counts" db:"lot_counts"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// CountLots derives the prototype composition from the uploaded lots.
func (o *ProductionOrder) CountLots() map[string]int {
	counts := make(map[string]int, len(o.Lots))
	for _, lot := range o.Lots {
		counts[lot.Prototype]++
	}
	return counts
}

// PurchaseStatus is the lifecycle state of a purchase order.
type PurchaseStatus int

const (
	PurchasePending   PurchaseStatus = 0
	PurchaseApproved  PurchaseStatus = 1
	PurchaseRejected  PurchaseStatus = 2
	PurchaseCancelled PurchaseStatus = 3
)

// PurchaseLine is one material on a purchase order. Quantity is in
// presentation units (what the supplier ships); Units is the raw
// unit-of-measure count it covers, kept so later requirement
// calculations can subtract coverage before presentation rounding.
type PurchaseLine struct {
	MaterialID string          `json:"material_id"`
	Concept    string          `json:"concept"`
	Unit       string          `json:"unit"`
	Quantity   decimal.Decimal `json:"quantity"`
	Units      decimal.Decimal `json:"units"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Total      decimal.Decimal `json:"total"`
}

// PurchaseOrder is a supplier order derived from a production order's
// outstanding requirements.
type PurchaseOrder struct {
	ID         string          `json:"id" db:"id"`
	Folio      int64           `json:"folio" db:"folio"`
	OrderID    string          `json:"order_id" db:"order_id"`
	SupplierID string          `json:"supplier_id" db:"supplier_id"`
	Status     PurchaseStatus  `json:"status" db:"status"`
	Lines      []PurchaseLine  `json:"lines" db:"lines"`
	Subtotal   decimal.Decimal `json:"subtotal" db:"subtotal"`
	IVA        decimal.Decimal `json:"iva" db:"iva"`
	Total      decimal.Decimal `json:"total" db:"total"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// Requirements is the outcome of a requirement calculation: the lines
// still to be purchased plus the materials that had to be dropped,
// reported as warnings instead of silently vanishing.
type Requirements struct {
	Lines    []PurchaseLine  `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
	IVA      decimal.Decimal `json:"iva"`
	Total    decimal.Decimal `json:"total"`
	Warnings []string        `json:"warnings,omitempty"`
}
