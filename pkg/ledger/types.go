// Package ledger implements the inventory ledger and allocation
// engine: inbound receipts that build traceable lots, aggregate
// on-hand stock, and the outbound request state machine that draws
// from those lots and can reverse its draws exactly.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Material is a purchasable, stockable item from the materials master.
type Material struct {
	ID           string          `json:"id" db:"id"`
	SupplierID   string          `json:"supplier_id" db:"supplier_id"`
	SupplierCode string          `json:"supplier_code" db:"supplier_code"` // supplier's own catalog code
	SKU          string          `json:"sku" db:"sku"`
	Concept      string          `json:"concept" db:"concept"` // textual description
	Unit         string          `json:"unit" db:"unit"`       // unit of measurement
	Presentation string          `json:"presentation" db:"presentation"`
	UnitPrice    decimal.Decimal `json:"unit_price" db:"unit_price"`
	Automation   bool            `json:"automation" db:"automation"` // round to whole packaging units
	Division     string          `json:"division" db:"division"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Slot is a physical storage location inside the warehouse.
type Slot struct {
	Rack   string `json:"rack" db:"rack"`
	Level  string `json:"level" db:"level"`
	Module string `json:"module" db:"module"`
}

// InventoryRecord is the current aggregate stock for one material,
// carrying a denormalized snapshot of the material's descriptive
// fields. It is created on the first-ever receipt of a material and
// never hard-deleted while lots reference it.
type InventoryRecord struct {
	ID         string          `json:"id" db:"id"`
	MaterialID string          `json:"material_id" db:"material_id"`
	SupplierID string          `json:"supplier_id" db:"supplier_id"`
	SKU        string          `json:"sku" db:"sku"`
	Concept    string          `json:"concept" db:"concept"`
	Unit       string          `json:"unit" db:"unit"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	Slot       Slot            `json:"slot"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// LotStatus is the consumption state of an inventory lot. It is a pure
// function of remaining quantity and only ever written together with a
// quantity change.
type LotStatus int

const (
	LotOpen              LotStatus = 0
	LotPartiallyConsumed LotStatus = 1
	LotFullyConsumed     LotStatus = 2
)

// String returns the status name.
func (s LotStatus) String() string {
	switch s {
	case LotOpen:
		return "open"
	case LotPartiallyConsumed:
		return "partially_consumed"
	case LotFullyConsumed:
		return "fully_consumed"
	default:
		return "unknown"
	}
}

// InventoryLot is one traceable slice of stock: a (receipt x material)
// record whose remaining quantity only decreases under consumption and
// only increases under explicit reversal.
type InventoryLot struct {
	ID           string          `json:"id" db:"id"`
	InventoryID  string          `json:"inventory_id" db:"inventory_id"`
	ReceiptFolio int64           `json:"receipt_folio" db:"receipt_folio"`
	MaterialID   string          `json:"material_id" db:"material_id"`
	ProjectID    string          `json:"project_id" db:"project_id"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"` // remaining
	Slot         Slot            `json:"slot"`
	Status       LotStatus       `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// ReceiptItem is one delivered line inside an inbound receipt.
type ReceiptItem struct {
	MaterialID string          `json:"material_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	// Expected is the quantity the purchase order called for. Zero
	// means the delivered quantity is taken as expected.
	Expected     decimal.Decimal `json:"expected,omitempty"`
	Slot         Slot            `json:"slot"`
	LotID        string          `json:"lot_id"` // assigned on commit
	RegisteredAt time.Time       `json:"registered_at"`
}

// ReceiptStatus is the receiving-completeness of an inbound receipt's
// originating purchase order.
type ReceiptStatus int

const (
	ReceiptRegistered ReceiptStatus = 0
	ReceiptPartial    ReceiptStatus = 1
	ReceiptComplete   ReceiptStatus = 2
)

// InboundReceipt is one delivery event.
type InboundReceipt struct {
	Folio           int64         `json:"folio" db:"folio"`
	PurchaseOrderID string        `json:"purchase_order_id" db:"purchase_order_id"`
	SupplierID      string        `json:"supplier_id" db:"supplier_id"`
	ProjectID       string        `json:"project_id" db:"project_id"`
	Items           []ReceiptItem `json:"items"`
	Notes           string        `json:"notes" db:"notes"`
	Status          ReceiptStatus `json:"status" db:"status"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
}

// OutputStatus is the lifecycle state of an outbound request.
type OutputStatus int

const (
	OutputRequested               OutputStatus = 0
	OutputApproved                OutputStatus = 1
	OutputReturnRequested         OutputStatus = 2
	OutputReturnPartiallyApproved OutputStatus = 3
	OutputReturnFullyApproved     OutputStatus = 4
	OutputCancelled               OutputStatus = 5
)

// String returns the status name.
func (s OutputStatus) String() string {
	switch s {
	case OutputRequested:
		return "requested"
	case OutputApproved:
		return "approved"
	case OutputReturnRequested:
		return "return_requested"
	case OutputReturnPartiallyApproved:
		return "return_partially_approved"
	case OutputReturnFullyApproved:
		return "return_fully_approved"
	case OutputCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// OutputSource is a draw against one lot: which lot, how much, and
// where the material is headed.
type OutputSource struct {
	LotID       string          `json:"lot_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Destination string          `json:"destination"`
}

// OutputItem is one requested material inside an outbound request. The
// sum of its source quantities must equal Quantity.
type OutputItem struct {
	MaterialID string          `json:"material_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Sources    []OutputSource  `json:"sources"`
}

// OutboundRequest is one consumption event with its folio and items.
type OutboundRequest struct {
	Folio     int64        `json:"folio" db:"folio"`
	ProjectID string       `json:"project_id" db:"project_id"`
	Items     []OutputItem `json:"items"`
	Status    OutputStatus `json:"status" db:"status"`
	Notes     string       `json:"notes" db:"notes"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// MovementType classifies a ledger journal row.
type MovementType string

const (
	MovementInbound  MovementType = "inbound"
	MovementOutbound MovementType = "outbound"
	MovementReversal MovementType = "reversal"
)

// Movement is one journal row; the ledger writes one beside every
// quantity mutation so that stock history can be reconstructed.
type Movement struct {
	ID         string          `json:"id" db:"id"`
	Type       MovementType    `json:"type" db:"type"`
	MaterialID string          `json:"material_id" db:"material_id"`
	LotID      string          `json:"lot_id" db:"lot_id"`
	Folio      int64           `json:"folio" db:"folio"` // receipt or output folio
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	CreatedBy  string          `json:"created_by" db:"created_by"`
}

// ConsumptionStatus is the receiving-completeness verdict for a set of
// purchase order items.
type ConsumptionStatus int

const (
	ConsumptionPartial  ConsumptionStatus = 1
	ConsumptionComplete ConsumptionStatus = 2
)

// DeliveredItem pairs what a purchase order line required with what has
// been delivered against it so far.
type DeliveredItem struct {
	Delivered decimal.Decimal `json:"delivered"`
	Required  decimal.Decimal `json:"required"`
}

// Folio counter names, one per human-facing document type.
const (
	FolioInbound  = "inbound_receipt"
	FolioOutbound = "outbound_request"
	FolioPurchase = "purchase_order"
)

// NewRecordID generates a new record identifier.
func NewRecordID() string {
	return uuid.New().String()
}
