package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/grupomobel/inventario/internal/metrics"
	"github.com/grupomobel/inventario/pkg/quantity"
)

// Config holds behavior settings shared by the receiving and
// allocation ledgers.
type Config struct {
	// AllowNegativeStock switches every decrement from a guarded
	// conditional update to the permissive legacy behavior where
	// stock may go below zero.
	AllowNegativeStock bool `yaml:"allow_negative_stock"`
	// BulkSheetName is the worksheet read by bulk uploads.
	BulkSheetName string `yaml:"bulk_sheet_name"`
	// DefaultWarehouse is the rack label assigned to received items
	// whose slot is left blank.
	DefaultWarehouse string `yaml:"default_warehouse"`
}

// DefaultConfig returns the strict-mode defaults.
func DefaultConfig() *Config {
	return &Config{
		AllowNegativeStock: false,
		BulkSheetName:      "Sheet1",
		DefaultWarehouse:   "ALMACEN-GENERAL",
	}
}

// ReceivingLedger records deliveries: it increments aggregate on-hand
// stock and creates one traceable lot per delivered item.
type ReceivingLedger struct {
	storage   Storage
	publisher EventPublisher
	logger    *zap.Logger
	config    *Config
}

// NewReceivingLedger creates a new receiving ledger.
func NewReceivingLedger(storage Storage, publisher EventPublisher, logger *zap.Logger, config *Config) *ReceivingLedger {
	if config == nil {
		config = DefaultConfig()
	}
	return &ReceivingLedger{
		storage:   storage,
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

// ReceiveRequest is one manual delivery registration.
type ReceiveRequest struct {
	PurchaseOrderID string        `json:"purchase_order_id"`
	SupplierID      string        `json:"supplier_id"`
	ProjectID       string        `json:"project_id"`
	Items           []ReceiptItem `json:"items"`
	Notes           string        `json:"notes"`
	// Token makes retries safe: replaying a receive with the same
	// token fails with ErrDuplicateDelivery instead of double-counting
	// stock. Empty disables the check.
	Token string `json:"token"`
}

// Receive durably records a delivery. Per item it upserts the
// material's aggregate stock and creates a lot record. On any failure
// the items already committed are taken back out and the idempotency
// token is released, so a failed call can be retried without drift.
func (r *ReceivingLedger) Receive(ctx context.Context, req ReceiveRequest) (*InboundReceipt, error) {
	if err := ValidateProjectID(req.ProjectID); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, NewValidationError("items", "delivery has no items", "")
	}
	for _, item := range req.Items {
		if err := ValidateReceiptItem(item); err != nil {
			return nil, err
		}
	}

	if req.Token != "" {
		if err := r.storage.ClaimToken(ctx, req.Token); err != nil {
			if errors.Is(err, ErrDuplicateDelivery) {
				return nil, ErrDuplicateDelivery
			}
			return nil, NewStorageError("claim_token", "failed to claim delivery token", err)
		}
	}

	folio, err := r.storage.NextFolio(ctx, FolioInbound)
	if err != nil {
		r.releaseToken(ctx, req.Token)
		return nil, NewStorageError("next_folio", "failed to assign receipt folio", err)
	}

	receipt := &InboundReceipt{
		Folio:           folio,
		PurchaseOrderID: req.PurchaseOrderID,
		SupplierID:      req.SupplierID,
		ProjectID:       req.ProjectID,
		Notes:           req.Notes,
		Status:          ReceiptRegistered,
		CreatedAt:       time.Now(),
	}

	for _, item := range req.Items {
		committed, err := r.receiveItem(ctx, receipt, item)
		if err != nil {
			r.revertItems(ctx, receipt.Items)
			r.releaseToken(ctx, req.Token)
			return nil, err
		}
		receipt.Items = append(receipt.Items, *committed)
	}

	receipt.Status = receiptStatus(req.PurchaseOrderID, receipt.Items)

	if err := r.storage.CreateReceipt(ctx, receipt); err != nil {
		r.revertItems(ctx, receipt.Items)
		r.releaseToken(ctx, req.Token)
		return nil, NewStorageError("create_receipt", "failed to persist inbound receipt", err)
	}

	r.logger.Info("delivery received",
		zap.Int64("folio", receipt.Folio),
		zap.String("project_id", receipt.ProjectID),
		zap.String("supplier_id", receipt.SupplierID),
		zap.Int("items", len(receipt.Items)),
	)

	return receipt, nil
}

// receiveItem commits one delivered line: aggregate upsert, lot
// creation, journal row, event.
func (r *ReceivingLedger) receiveItem(ctx context.Context, receipt *InboundReceipt, item ReceiptItem) (*ReceiptItem, error) {
	qty := quantity.Fixed(item.Quantity)
	if item.Slot == (Slot{}) {
		item.Slot = Slot{Rack: r.config.DefaultWarehouse}
	}

	material, err := r.storage.GetMaterial(ctx, item.MaterialID)
	if err != nil {
		if errors.Is(err, ErrMaterialNotFound) {
			return nil, ErrMaterialNotFound
		}
		return nil, NewStorageError("get_material", "failed to load material", err)
	}

	if err := r.storage.AddToInventory(ctx, material.ID, qty); err != nil {
		if !errors.Is(err, ErrInventoryNotFound) {
			return nil, NewStorageError("add_to_inventory", "failed to increment on-hand stock", err)
		}
		// First-ever receipt of this material: create the aggregate
		// record with a snapshot of its descriptive fields.
		record := &InventoryRecord{
			ID:         NewRecordID(),
			MaterialID: material.ID,
			SupplierID: material.SupplierID,
			SKU:        material.SKU,
			Concept:    material.Concept,
			Unit:       material.Unit,
			Quantity:   qty,
			Slot:       item.Slot,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		if err := r.storage.CreateInventory(ctx, record); err != nil {
			return nil, NewStorageError("create_inventory", "failed to create inventory record", err)
		}
	}

	inventory, err := r.storage.GetInventoryByMaterial(ctx, material.ID)
	if err != nil {
		return nil, NewStorageError("get_inventory", "failed to load inventory record", err)
	}

	lot := &InventoryLot{
		ID:           NewRecordID(),
		InventoryID:  inventory.ID,
		ReceiptFolio: receipt.Folio,
		MaterialID:   material.ID,
		ProjectID:    receipt.ProjectID,
		Quantity:     qty,
		Slot:         item.Slot,
		Status:       LotOpen,
		CreatedAt:    time.Now(),
	}
	if err := r.storage.CreateLot(ctx, lot); err != nil {
		// Compensate the aggregate increment so a retry starts clean.
		if compErr := r.storage.TakeFromInventory(ctx, material.ID, qty, true); compErr != nil {
			r.logger.Error("failed to compensate inventory after lot creation failure",
				zap.String("material_id", material.ID),
				zap.Error(compErr),
			)
		}
		return nil, NewStorageError("create_lot", "failed to create inventory lot", err)
	}

	movement := &Movement{
		ID:         NewRecordID(),
		Type:       MovementInbound,
		MaterialID: material.ID,
		LotID:      lot.ID,
		Folio:      receipt.Folio,
		Quantity:   qty,
		CreatedAt:  time.Now(),
		CreatedBy:  userFromContext(ctx),
	}
	if err := r.storage.CreateMovement(ctx, movement); err != nil {
		r.logger.Error("failed to record inbound movement", zap.Error(err))
	}

	r.publishStockChanged(ctx, StockChangedEvent{
		MaterialID: material.ID,
		LotID:      lot.ID,
		Folio:      receipt.Folio,
		Change:     qty,
		Type:       MovementInbound,
		Timestamp:  time.Now(),
	})
	metrics.ReceiptsTotal.Inc()

	item.Quantity = qty
	item.Expected = quantity.Fixed(item.Expected)
	item.LotID = lot.ID
	if item.RegisteredAt.IsZero() {
		item.RegisteredAt = time.Now()
	}
	return &item, nil
}

// revertItems takes every committed item back out, newest first, after
// a later step of the same receive failed. Failures are logged and
// skipped so the remaining items still get reverted.
func (r *ReceivingLedger) revertItems(ctx context.Context, items []ReceiptItem) {
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if _, err := r.storage.DrawFromLot(ctx, item.LotID, item.Quantity, true); err != nil {
			r.logger.Error("failed to revert lot during receive rollback",
				zap.String("lot_id", item.LotID),
				zap.Error(err),
			)
		}
		if err := r.storage.TakeFromInventory(ctx, item.MaterialID, item.Quantity, true); err != nil {
			r.logger.Error("failed to revert inventory during receive rollback",
				zap.String("material_id", item.MaterialID),
				zap.Error(err),
			)
		}
	}
}

// releaseToken frees the idempotency token after a rollback so the
// caller's retry is not rejected as a duplicate.
func (r *ReceivingLedger) releaseToken(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := r.storage.ReleaseToken(ctx, token); err != nil {
		r.logger.Error("failed to release delivery token", zap.Error(err))
	}
}

// receiptStatus stamps receiving completeness against the originating
// purchase order: partial when any item delivered less than expected,
// complete otherwise. Receipts without a purchase order stay registered.
func receiptStatus(purchaseOrderID string, items []ReceiptItem) ReceiptStatus {
	if purchaseOrderID == "" {
		return ReceiptRegistered
	}
	delivered := make([]DeliveredItem, 0, len(items))
	for _, item := range items {
		required := item.Expected
		if required.Sign() <= 0 {
			required = item.Quantity
		}
		delivered = append(delivered, DeliveredItem{Delivered: item.Quantity, Required: required})
	}
	if CheckConsumption(delivered) == ConsumptionPartial {
		return ReceiptPartial
	}
	return ReceiptComplete
}

// bulk upload column layout: [rack, level, module, sku, concept,
// supplier_code, quantity, ...], header on row 1, data from row 2.
const bulkColumns = 7

// BulkReceiveRequest is a spreadsheet delivery registration.
type BulkReceiveRequest struct {
	PurchaseOrderID string
	SupplierID      string
	ProjectID       string
	Notes           string
	Token           string
	Sheet           io.Reader
}

// BulkReceiveResult reports both outcomes of a bulk upload. Partial
// success is a complete result, not an exception: callers always get
// the committed items and the rejected rows together.
type BulkReceiveResult struct {
	Receipt  *InboundReceipt `json:"receipt,omitempty"`
	Inserted []ReceiptItem   `json:"inserted"`
	Errors   []RowError      `json:"errors"`
}

// ReceiveBulk parses a delivery spreadsheet, matches rows against the
// supplier's materials, and commits every resolvable row. Rows that do
// not resolve to exactly one material or whose quantity does not parse
// are collected as row errors and excluded from the committed batch.
func (r *ReceivingLedger) ReceiveBulk(ctx context.Context, req BulkReceiveRequest) (*BulkReceiveResult, error) {
	if req.SupplierID == "" {
		return nil, NewValidationError("supplier_id", "supplier id is empty", "")
	}
	if err := ValidateProjectID(req.ProjectID); err != nil {
		return nil, err
	}

	file, err := excelize.OpenReader(req.Sheet)
	if err != nil {
		return nil, NewValidationError("sheet", "failed to open spreadsheet", err.Error())
	}
	defer file.Close()

	rows, err := file.GetRows(r.config.BulkSheetName)
	if err != nil {
		return nil, NewValidationError("sheet", fmt.Sprintf("failed to read worksheet %s", r.config.BulkSheetName), err.Error())
	}

	materials, err := r.storage.ListMaterialsBySupplier(ctx, req.SupplierID)
	if err != nil {
		return nil, NewStorageError("list_materials", "failed to load supplier materials", err)
	}

	result := &BulkReceiveResult{}
	var items []ReceiptItem

	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		rowNumber := i + 1

		if len(row) < bulkColumns {
			result.Errors = append(result.Errors, RowError{Row: rowNumber, Message: "too few columns"})
			continue
		}

		matches := matchMaterials(materials, row[3], row[4], row[5])
		switch len(matches) {
		case 1:
			// resolved
		case 0:
			result.Errors = append(result.Errors, RowError{Row: rowNumber, Message: "no material matches the row"})
			continue
		default:
			result.Errors = append(result.Errors, RowError{Row: rowNumber,
				Message: fmt.Sprintf("row matches %d materials", len(matches))})
			continue
		}

		qty, err := quantity.Parse(row[6])
		if err != nil {
			result.Errors = append(result.Errors, RowError{Row: rowNumber,
				Message: fmt.Sprintf("quantity %q is not a valid decimal", row[6])})
			continue
		}
		if qty.Sign() <= 0 {
			result.Errors = append(result.Errors, RowError{Row: rowNumber,
				Message: fmt.Sprintf("quantity %s must be positive", qty)})
			continue
		}

		items = append(items, ReceiptItem{
			MaterialID: matches[0].ID,
			Quantity:   qty,
			Slot:       Slot{Rack: row[0], Level: row[1], Module: row[2]},
		})
	}

	if len(items) > 0 {
		receipt, err := r.Receive(ctx, ReceiveRequest{
			PurchaseOrderID: req.PurchaseOrderID,
			SupplierID:      req.SupplierID,
			ProjectID:       req.ProjectID,
			Items:           items,
			Notes:           req.Notes,
			Token:           req.Token,
		})
		if err != nil {
			return nil, err
		}
		result.Receipt = receipt
		result.Inserted = receipt.Items
	}

	r.logger.Info("bulk delivery processed",
		zap.String("supplier_id", req.SupplierID),
		zap.String("project_id", req.ProjectID),
		zap.Int("inserted", len(result.Inserted)),
		zap.Int("errors", len(result.Errors)),
	)

	return result, nil
}

// matchMaterials returns the supplier materials whose SKU, concept or
// supplier code starts with the corresponding row value,
// case-insensitively. Blank row values do not participate.
func matchMaterials(materials []Material, sku, concept, supplierCode string) []Material {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	concept = strings.ToUpper(strings.TrimSpace(concept))
	supplierCode = strings.ToUpper(strings.TrimSpace(supplierCode))

	var matches []Material
	for _, m := range materials {
		switch {
		case sku != "" && strings.HasPrefix(strings.ToUpper(m.SKU), sku):
		case concept != "" && strings.HasPrefix(strings.ToUpper(m.Concept), concept):
		case supplierCode != "" && strings.HasPrefix(strings.ToUpper(m.SupplierCode), supplierCode):
		default:
			continue
		}
		matches = append(matches, m)
	}
	return matches
}

// CheckConsumption reports whether a set of purchase order lines has
// been fully delivered: partial when any line's delivered quantity is
// below its required total, complete otherwise. Used to stamp the
// receiving-completeness flag on the originating purchase order.
func CheckConsumption(items []DeliveredItem) ConsumptionStatus {
	for _, item := range items {
		if item.Delivered.LessThan(item.Required) {
			return ConsumptionPartial
		}
	}
	return ConsumptionComplete
}

// publishStockChanged publishes best-effort; failures are logged.
func (r *ReceivingLedger) publishStockChanged(ctx context.Context, event StockChangedEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishStockChanged(ctx, event); err != nil {
		r.logger.Error("failed to publish stock change", zap.Error(err))
	}
}

type contextKey string

// ContextKeyUser carries the acting user's identifier.
const ContextKeyUser contextKey = "user_id"

// userFromContext extracts the acting user, defaulting to "system".
func userFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(ContextKeyUser).(string); ok {
		return userID
	}
	return "system"
}
