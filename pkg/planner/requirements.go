package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/grupomobel/inventario/pkg/ledger"
	"github.com/grupomobel/inventario/pkg/quantity"
)

// BuildRequirements computes what still has to be purchased from one
// supplier for a production order. Coverage from prior pending or
// approved purchase orders is subtracted in raw units, before any
// presentation rounding, so a covered dozen counts as its twelve units.
// Materials that end up fully covered, or cannot be resolved, are
// dropped from the lines and reported in Warnings.
func (p *Planner) BuildRequirements(ctx context.Context, orderID, supplierID string, divisions []string) (*Requirements, error) {
	if supplierID == "" {
		return nil, ledger.NewValidationError("supplier_id", "supplier id is empty", "")
	}

	explosions, err := p.storage.ListExplosionByOrder(ctx, orderID)
	if err != nil {
		return nil, ledger.NewStorageError("list_explosion", "failed to load explosion records", err)
	}

	coverage, err := p.priorCoverage(ctx, orderID, supplierID)
	if err != nil {
		return nil, err
	}

	divisionFilter := make(map[string]bool, len(divisions))
	for _, d := range divisions {
		divisionFilter[d] = true
	}

	result := &Requirements{}
	subtotals := []decimal.Decimal{}

	for _, explosion := range explosions {
		material, err := p.storage.GetMaterial(ctx, explosion.MaterialID)
		if err != nil {
			if errors.Is(err, ledger.ErrMaterialNotFound) {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("material %s dropped: not in materials master", explosion.MaterialID))
				continue
			}
			return nil, ledger.NewStorageError("get_material", "failed to load material", err)
		}
		if material.SupplierID != supplierID {
			continue
		}
		if len(divisionFilter) > 0 && !divisionFilter[material.Division] {
			continue
		}

		remainder := explosion.Total.Sub(coverage[material.ID])
		if remainder.Sign() <= 0 {
			continue
		}

		policy := quantity.PolicyFor(material.Automation, material.Presentation)
		if policy.Ambiguous {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("material %s: presentation %q is ambiguous, smallest multiple used", material.ID, material.Presentation))
		}
		if material.Automation && policy.Unit.IsZero() {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("material %s: presentation %q does not resolve, exact quantity used", material.ID, material.Presentation))
		}

		lineQty := policy.Apply(remainder)
		lineTotal := quantity.Fixed(lineQty.Mul(material.UnitPrice))
		result.Lines = append(result.Lines, PurchaseLine{
			MaterialID: material.ID,
			Concept:    material.Concept,
			Unit:       material.Unit,
			Quantity:   lineQty,
			Units:      quantity.Fixed(remainder),
			UnitPrice:  material.UnitPrice,
			Total:      lineTotal,
		})
		subtotals = append(subtotals, lineTotal)
	}

	result.Subtotal = quantity.SumFixed(subtotals...)
	result.IVA = quantity.Fixed(result.Subtotal.Mul(p.ivaRate()))
	result.Total = quantity.SumFixed(result.Subtotal, result.IVA)

	p.logger.Info("requirements built",
		zap.String("order_id", orderID),
		zap.String("supplier_id", supplierID),
		zap.Int("lines", len(result.Lines)),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// CreatePurchaseOrder builds the outstanding requirements and persists
// them as a new pending purchase order with its own folio.
func (p *Planner) CreatePurchaseOrder(ctx context.Context, orderID, supplierID string, divisions []string) (*PurchaseOrder, *Requirements, error) {
	requirements, err := p.BuildRequirements(ctx, orderID, supplierID, divisions)
	if err != nil {
		return nil, nil, err
	}
	if len(requirements.Lines) == 0 {
		return nil, nil, ledger.NewBusinessRuleError("nothing_to_purchase",
			"every material is already covered or unresolvable", orderID)
	}

	folio, err := p.storage.NextFolio(ctx, ledger.FolioPurchase)
	if err != nil {
		return nil, nil, ledger.NewStorageError("next_folio", "failed to assign purchase folio", err)
	}

	order := &PurchaseOrder{
		ID:         ledger.NewRecordID(),
		Folio:      folio,
		OrderID:    orderID,
		SupplierID: supplierID,
		Status:     PurchasePending,
		Lines:      requirements.Lines,
		Subtotal:   requirements.Subtotal,
		IVA:        requirements.IVA,
		Total:      requirements.Total,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := p.storage.CreatePurchaseOrder(ctx, order); err != nil {
		return nil, nil, ledger.NewStorageError("create_purchase_order", "failed to persist purchase order", err)
	}

	p.logger.Info("purchase order created",
		zap.Int64("folio", order.Folio),
		zap.String("order_id", orderID),
		zap.String("supplier_id", supplierID),
		zap.String("total", order.Total.String()),
	)
	return order, requirements, nil
}

// priorCoverage sums, per material, the raw units already covered by
// this order's pending or approved purchase orders with the supplier.
func (p *Planner) priorCoverage(ctx context.Context, orderID, supplierID string) (map[string]decimal.Decimal, error) {
	orders, err := p.storage.ListPurchaseOrders(ctx, orderID, supplierID)
	if err != nil {
		return nil, ledger.NewStorageError("list_purchase_orders", "failed to load prior purchase orders", err)
	}

	coverage := make(map[string]decimal.Decimal)
	for _, order := range orders {
		if order.Status != PurchasePending && order.Status != PurchaseApproved {
			continue
		}
		for _, line := range order.Lines {
			coverage[line.MaterialID] = quantity.SumFixed(coverage[line.MaterialID], line.Units)
		}
	}
	return coverage, nil
}
