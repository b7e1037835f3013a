package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Storage is the persistence contract consumed by the ledgers. Any
// store works as long as the quantity mutations are atomic conditional
// updates: "change by X, but only if the guard holds" must be a single
// storage-level operation, never a read-modify-write in application
// code.
type Storage interface {
	// Materials master (read-only from the ledger's point of view).
	GetMaterial(ctx context.Context, materialID string) (*Material, error)
	ListMaterialsBySupplier(ctx context.Context, supplierID string) ([]Material, error)

	// Aggregate stock.
	CreateInventory(ctx context.Context, record *InventoryRecord) error
	GetInventoryByMaterial(ctx context.Context, materialID string) (*InventoryRecord, error)
	// AddToInventory atomically increments on-hand stock for a
	// material. Returns ErrInventoryNotFound when no record exists yet.
	AddToInventory(ctx context.Context, materialID string, qty decimal.Decimal) error
	// TakeFromInventory atomically decrements on-hand stock. With
	// permissive=false the decrement only applies while current >= qty
	// and fails with ErrInsufficientStock otherwise; with
	// permissive=true stock may go negative (legacy behavior).
	TakeFromInventory(ctx context.Context, materialID string, qty decimal.Decimal, permissive bool) error

	// Lots.
	CreateLot(ctx context.Context, lot *InventoryLot) error
	GetLot(ctx context.Context, lotID string) (*InventoryLot, error)
	ListLotsByMaterial(ctx context.Context, materialID string) ([]InventoryLot, error)
	// DrawFromLot atomically decrements a lot's remaining quantity and
	// recomputes its status from the pre-decrement remainder: fully
	// consumed when the draw meets or exceeds it, partially consumed
	// otherwise. Same permissive semantics as TakeFromInventory.
	DrawFromLot(ctx context.Context, lotID string, qty decimal.Decimal, permissive bool) (LotStatus, error)
	// RestoreToLot atomically increments a lot's remaining quantity.
	// The status always lands on partially consumed: a reversed lot
	// never goes back to open, even when fully restored.
	RestoreToLot(ctx context.Context, lotID string, qty decimal.Decimal) (LotStatus, error)

	// Documents.
	CreateReceipt(ctx context.Context, receipt *InboundReceipt) error
	GetReceipt(ctx context.Context, folio int64) (*InboundReceipt, error)
	CreateOutput(ctx context.Context, output *OutboundRequest) error
	GetOutput(ctx context.Context, folio int64) (*OutboundRequest, error)
	UpdateOutput(ctx context.Context, output *OutboundRequest) error

	// Journal.
	CreateMovement(ctx context.Context, movement *Movement) error
	ListMovementsByMaterial(ctx context.Context, materialID string, limit int) ([]Movement, error)

	// NextFolio atomically increments and returns the named
	// human-facing document counter. Never computed by scanning for
	// "max existing + 1".
	NextFolio(ctx context.Context, name string) (int64, error)

	// ClaimToken records an idempotency token, failing with
	// ErrDuplicateDelivery when the token was already claimed.
	ClaimToken(ctx context.Context, token string) error

	// ReleaseToken forgets a claimed token so the delivery can be
	// retried after its receive was rolled back. Releasing an
	// unclaimed token is a no-op.
	ReleaseToken(ctx context.Context, token string) error

	Ping(ctx context.Context) error
	Close() error
}

// StockChangedEvent notifies listeners that on-hand stock moved.
type StockChangedEvent struct {
	MaterialID string          `json:"material_id"`
	LotID      string          `json:"lot_id,omitempty"`
	Folio      int64           `json:"folio"`
	Change     decimal.Decimal `json:"change"` // signed
	Type       MovementType    `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
}

// EventPublisher receives ledger events. Publishing is best-effort:
// failures are logged by the ledger and never fail the operation.
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, event StockChangedEvent) error
}
