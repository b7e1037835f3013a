package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/grupomobel/inventario/internal/metrics"
	"github.com/grupomobel/inventario/pkg/quantity"
)

// AllocationLedger manages outbound requests through their lifecycle:
// requested, approved, returned (partially or fully) or cancelled.
// Stock only moves on approval and on return approval; creating or
// cancelling a request never touches quantities.
type AllocationLedger struct {
	storage   Storage
	publisher EventPublisher
	logger    *zap.Logger
	config    *Config
}

// NewAllocationLedger creates a new allocation ledger.
func NewAllocationLedger(storage Storage, publisher EventPublisher, logger *zap.Logger, config *Config) *AllocationLedger {
	if config == nil {
		config = DefaultConfig()
	}
	return &AllocationLedger{
		storage:   storage,
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

// CreateOutputRequest is a new outbound request. Items carry the
// per-lot sources the requester wants to draw from; nothing is
// decremented until the request is approved.
type CreateOutputRequest struct {
	ProjectID string       `json:"project_id"`
	Items     []OutputItem `json:"items"`
	Notes     string       `json:"notes"`
}

// Create registers an outbound request in the requested state.
func (a *AllocationLedger) Create(ctx context.Context, req CreateOutputRequest) (*OutboundRequest, error) {
	if err := ValidateProjectID(req.ProjectID); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, NewValidationError("items", "outbound request has no items", "")
	}
	for _, item := range req.Items {
		if err := ValidateOutputItem(item); err != nil {
			return nil, err
		}
	}

	folio, err := a.storage.NextFolio(ctx, FolioOutbound)
	if err != nil {
		return nil, NewStorageError("next_folio", "failed to assign output folio", err)
	}

	output := &OutboundRequest{
		Folio:     folio,
		ProjectID: req.ProjectID,
		Items:     normalizeOutputItems(req.Items),
		Status:    OutputRequested,
		Notes:     req.Notes,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := a.storage.CreateOutput(ctx, output); err != nil {
		return nil, NewStorageError("create_output", "failed to persist outbound request", err)
	}

	a.logger.Info("outbound request created",
		zap.Int64("folio", output.Folio),
		zap.String("project_id", output.ProjectID),
		zap.Int("items", len(output.Items)),
	)

	return output, nil
}

// Approve applies the selected subset of a requested output: every
// selected source is drawn from its lot and from the material's
// aggregate stock. The request's item list is replaced by the selected
// subset, so unselected items are dropped from the record. On any
// failure, draws already applied are credited back before returning.
func (a *AllocationLedger) Approve(ctx context.Context, folio int64, selected []OutputItem) (*OutboundRequest, error) {
	output, err := a.loadOutput(ctx, folio)
	if err != nil {
		return nil, err
	}
	if output.Status != OutputRequested {
		return nil, ErrInvalidTransition
	}
	if len(selected) == 0 {
		return nil, NewValidationError("items", "approval selects no items", "")
	}
	for _, item := range selected {
		if err := ValidateOutputItem(item); err != nil {
			return nil, err
		}
		if !a.outputContains(output, item.MaterialID) {
			return nil, NewBusinessRuleError("unknown_item",
				"approved material is not part of the request", item.MaterialID)
		}
		for _, source := range item.Sources {
			if !a.outputNamesSource(output, item.MaterialID, source.LotID) {
				return nil, NewBusinessRuleError("unknown_source",
					"approved lot is not named by the request", source.LotID)
			}
		}
	}
	selected = normalizeOutputItems(selected)

	applied, err := a.applyDraws(ctx, folio, selected)
	if err != nil {
		a.revertDraws(ctx, applied)
		return nil, err
	}

	output.Items = selected
	output.Status = OutputApproved
	output.UpdatedAt = time.Now()
	if err := a.storage.UpdateOutput(ctx, output); err != nil {
		a.revertDraws(ctx, applied)
		return nil, NewStorageError("update_output", "failed to persist approval", err)
	}

	a.logger.Info("outbound request approved",
		zap.Int64("folio", output.Folio),
		zap.String("project_id", output.ProjectID),
		zap.Int("items", len(output.Items)),
	)

	return output, nil
}

// RequestReturn moves an approved output into the return-requested
// state. No stock moves until the return is approved.
func (a *AllocationLedger) RequestReturn(ctx context.Context, folio int64) (*OutboundRequest, error) {
	output, err := a.loadOutput(ctx, folio)
	if err != nil {
		return nil, err
	}
	if output.Status != OutputApproved {
		return nil, ErrInvalidTransition
	}

	output.Status = OutputReturnRequested
	output.UpdatedAt = time.Now()
	if err := a.storage.UpdateOutput(ctx, output); err != nil {
		return nil, NewStorageError("update_output", "failed to persist return request", err)
	}

	a.logger.Info("return requested", zap.Int64("folio", output.Folio))
	return output, nil
}

// ApproveReturn credits the selected items back to their source lots
// and aggregate records, exactly inverting the original draws. A
// partial return removes the returned items from the request; a full
// return replaces the request's items with the caller-supplied
// remaining list. Restored lots always land on the partially consumed
// status, even when the full original quantity comes back.
func (a *AllocationLedger) ApproveReturn(ctx context.Context, folio int64, selected []OutputItem, full bool, remaining []OutputItem) (*OutboundRequest, error) {
	output, err := a.loadOutput(ctx, folio)
	if err != nil {
		return nil, err
	}
	if output.Status != OutputReturnRequested && output.Status != OutputReturnPartiallyApproved {
		return nil, ErrInvalidTransition
	}
	if len(selected) == 0 {
		return nil, NewValidationError("items", "return approves no items", "")
	}
	for _, item := range selected {
		if err := ValidateOutputItem(item); err != nil {
			return nil, err
		}
		if !a.outputContains(output, item.MaterialID) {
			return nil, NewBusinessRuleError("unknown_item",
				"returned material is not part of the request", item.MaterialID)
		}
	}
	selected = normalizeOutputItems(selected)

	for _, item := range selected {
		for _, source := range item.Sources {
			if err := a.creditSource(ctx, folio, item.MaterialID, source); err != nil {
				return nil, err
			}
		}
	}

	if full {
		output.Items = normalizeOutputItems(remaining)
		output.Status = OutputReturnFullyApproved
	} else {
		output.Items = removeReturnedItems(output.Items, selected)
		output.Status = OutputReturnPartiallyApproved
	}
	output.UpdatedAt = time.Now()
	if err := a.storage.UpdateOutput(ctx, output); err != nil {
		return nil, NewStorageError("update_output", "failed to persist return approval", err)
	}

	a.logger.Info("return approved",
		zap.Int64("folio", output.Folio),
		zap.Bool("full", full),
		zap.Int("returned_items", len(selected)),
	)

	return output, nil
}

// Cancel discards a request that was never approved. Approved requests
// cannot be cancelled, only returned.
func (a *AllocationLedger) Cancel(ctx context.Context, folio int64) (*OutboundRequest, error) {
	output, err := a.loadOutput(ctx, folio)
	if err != nil {
		return nil, err
	}
	if output.Status != OutputRequested {
		return nil, ErrInvalidTransition
	}

	output.Status = OutputCancelled
	output.UpdatedAt = time.Now()
	if err := a.storage.UpdateOutput(ctx, output); err != nil {
		return nil, NewStorageError("update_output", "failed to persist cancellation", err)
	}

	a.logger.Info("outbound request cancelled", zap.Int64("folio", output.Folio))
	return output, nil
}

// Get returns an outbound request by folio.
func (a *AllocationLedger) Get(ctx context.Context, folio int64) (*OutboundRequest, error) {
	return a.loadOutput(ctx, folio)
}

func (a *AllocationLedger) loadOutput(ctx context.Context, folio int64) (*OutboundRequest, error) {
	if err := ValidateFolio(folio); err != nil {
		return nil, err
	}
	output, err := a.storage.GetOutput(ctx, folio)
	if err != nil {
		if errors.Is(err, ErrOutputNotFound) {
			return nil, ErrOutputNotFound
		}
		return nil, NewStorageError("get_output", "failed to load outbound request", err)
	}
	return output, nil
}

// appliedDraw remembers one committed source decrement so it can be
// credited back if a later decrement in the same approval fails.
type appliedDraw struct {
	materialID string
	lotID      string
	qty        decimal.Decimal
}

func (a *AllocationLedger) applyDraws(ctx context.Context, folio int64, items []OutputItem) ([]appliedDraw, error) {
	var applied []appliedDraw
	for _, item := range items {
		for _, source := range item.Sources {
			qty := source.Quantity

			if err := a.storage.TakeFromInventory(ctx, item.MaterialID, qty, a.config.AllowNegativeStock); err != nil {
				if errors.Is(err, ErrInsufficientStock) {
					metrics.InsufficientStockTotal.Inc()
				}
				return applied, err
			}
			if _, err := a.storage.DrawFromLot(ctx, source.LotID, qty, a.config.AllowNegativeStock); err != nil {
				// Undo the aggregate decrement for this source before
				// reporting; earlier sources are reverted by the caller.
				if compErr := a.storage.AddToInventory(ctx, item.MaterialID, qty); compErr != nil {
					a.logger.Error("failed to compensate inventory after lot draw failure",
						zap.String("material_id", item.MaterialID),
						zap.Error(compErr),
					)
				}
				if errors.Is(err, ErrInsufficientStock) {
					metrics.InsufficientStockTotal.Inc()
				}
				return applied, err
			}
			applied = append(applied, appliedDraw{materialID: item.MaterialID, lotID: source.LotID, qty: qty})
			metrics.AllocationsTotal.Inc()

			a.recordMovement(ctx, MovementOutbound, item.MaterialID, source.LotID, folio, qty.Neg())
		}
	}
	return applied, nil
}

// revertDraws credits back every applied draw, newest first. Failures
// are logged and skipped so the remaining draws still get reverted.
func (a *AllocationLedger) revertDraws(ctx context.Context, applied []appliedDraw) {
	for i := len(applied) - 1; i >= 0; i-- {
		draw := applied[i]
		if _, err := a.storage.RestoreToLot(ctx, draw.lotID, draw.qty); err != nil {
			a.logger.Error("failed to restore lot during rollback",
				zap.String("lot_id", draw.lotID),
				zap.Error(err),
			)
		}
		if err := a.storage.AddToInventory(ctx, draw.materialID, draw.qty); err != nil {
			a.logger.Error("failed to restore inventory during rollback",
				zap.String("material_id", draw.materialID),
				zap.Error(err),
			)
		}
	}
}

// creditSource inverts one original draw: the lot and the aggregate
// record both get the exact drawn quantity back.
func (a *AllocationLedger) creditSource(ctx context.Context, folio int64, materialID string, source OutputSource) error {
	qty := source.Quantity
	if _, err := a.storage.RestoreToLot(ctx, source.LotID, qty); err != nil {
		if errors.Is(err, ErrLotNotFound) {
			return ErrLotNotFound
		}
		return NewStorageError("restore_lot", "failed to credit lot", err)
	}
	if err := a.storage.AddToInventory(ctx, materialID, qty); err != nil {
		return NewStorageError("add_to_inventory", "failed to credit on-hand stock", err)
	}
	metrics.ReversalsTotal.Inc()
	a.recordMovement(ctx, MovementReversal, materialID, source.LotID, folio, qty)
	return nil
}

func (a *AllocationLedger) recordMovement(ctx context.Context, movType MovementType, materialID, lotID string, folio int64, qty decimal.Decimal) {
	movement := &Movement{
		ID:         NewRecordID(),
		Type:       movType,
		MaterialID: materialID,
		LotID:      lotID,
		Folio:      folio,
		Quantity:   qty,
		CreatedAt:  time.Now(),
		CreatedBy:  userFromContext(ctx),
	}
	if err := a.storage.CreateMovement(ctx, movement); err != nil {
		a.logger.Error("failed to record movement",
			zap.String("type", string(movType)),
			zap.Error(err),
		)
	}

	a.publishStockChanged(ctx, StockChangedEvent{
		MaterialID: materialID,
		LotID:      lotID,
		Folio:      folio,
		Change:     qty,
		Type:       movType,
		Timestamp:  time.Now(),
	})
}

func (a *AllocationLedger) publishStockChanged(ctx context.Context, event StockChangedEvent) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.PublishStockChanged(ctx, event); err != nil {
		a.logger.Error("failed to publish stock change", zap.Error(err))
	}
}

func (a *AllocationLedger) outputContains(output *OutboundRequest, materialID string) bool {
	for _, item := range output.Items {
		if item.MaterialID == materialID {
			return true
		}
	}
	return false
}

// outputNamesSource reports whether the stored request draws the given
// material from the given lot.
func (a *AllocationLedger) outputNamesSource(output *OutboundRequest, materialID, lotID string) bool {
	for _, item := range output.Items {
		if item.MaterialID != materialID {
			continue
		}
		for _, source := range item.Sources {
			if source.LotID == lotID {
				return true
			}
		}
	}
	return false
}

// normalizeOutputItems rounds every quantity to the ledger's fixed
// scale so arithmetic downstream stays exact.
func normalizeOutputItems(items []OutputItem) []OutputItem {
	normalized := make([]OutputItem, len(items))
	for i, item := range items {
		normalized[i] = item
		normalized[i].Quantity = quantity.Fixed(item.Quantity)
		normalized[i].Sources = make([]OutputSource, len(item.Sources))
		for j, source := range item.Sources {
			normalized[i].Sources[j] = source
			normalized[i].Sources[j].Quantity = quantity.Fixed(source.Quantity)
		}
	}
	return normalized
}

// removeReturnedItems drops the returned materials from the request's
// recorded item list.
func removeReturnedItems(items, returned []OutputItem) []OutputItem {
	returnedByMaterial := make(map[string]bool, len(returned))
	for _, item := range returned {
		returnedByMaterial[item.MaterialID] = true
	}
	var kept []OutputItem
	for _, item := range items {
		if !returnedByMaterial[item.MaterialID] {
			kept = append(kept, item)
		}
	}
	return kept
}
