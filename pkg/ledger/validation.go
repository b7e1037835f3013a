package ledger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateMaterialID validates the format of a material identifier.
func ValidateMaterialID(materialID string) error {
	if materialID == "" {
		return NewValidationError("material_id", "material id is empty", materialID)
	}
	if len(materialID) > 255 {
		return NewValidationError("material_id", "material id is too long", materialID)
	}
	if !idPattern.MatchString(materialID) {
		return NewValidationError("material_id", "material id contains invalid characters", materialID)
	}
	return nil
}

// ValidateProjectID validates the format of a project reference.
func ValidateProjectID(projectID string) error {
	if projectID == "" {
		return NewValidationError("project_id", "project id is empty", projectID)
	}
	if len(projectID) > 255 {
		return NewValidationError("project_id", "project id is too long", projectID)
	}
	return nil
}

// ValidatePositiveQuantity rejects zero and negative quantities.
func ValidatePositiveQuantity(field string, qty decimal.Decimal) error {
	if qty.Sign() <= 0 {
		return NewValidationError(field, "quantity must be positive", qty.String())
	}
	return nil
}

// ValidateFolio validates a document folio number.
func ValidateFolio(folio int64) error {
	if folio <= 0 {
		return NewValidationError("folio", "folio must be positive", fmt.Sprintf("%d", folio))
	}
	return nil
}

// ValidateSlot validates a storage location. All three coordinates are
// optional but when present must be short plain labels.
func ValidateSlot(slot Slot) error {
	for field, value := range map[string]string{
		"rack":   slot.Rack,
		"level":  slot.Level,
		"module": slot.Module,
	} {
		if len(value) > 64 {
			return NewValidationError(field, "location label is too long", value)
		}
	}
	return nil
}

// ValidateReceiptItem validates one inbound delivery line.
func ValidateReceiptItem(item ReceiptItem) error {
	if err := ValidateMaterialID(item.MaterialID); err != nil {
		return err
	}
	if err := ValidatePositiveQuantity("quantity", item.Quantity); err != nil {
		return err
	}
	return ValidateSlot(item.Slot)
}

// ValidateOutputItem validates one outbound item: material, total
// quantity, and the invariant that per-source draws sum exactly to the
// item total.
func ValidateOutputItem(item OutputItem) error {
	if err := ValidateMaterialID(item.MaterialID); err != nil {
		return err
	}
	if err := ValidatePositiveQuantity("quantity", item.Quantity); err != nil {
		return err
	}
	if len(item.Sources) == 0 {
		return NewValidationError("sources", "output item has no sources", item.MaterialID)
	}

	total := decimal.Zero
	for _, source := range item.Sources {
		if strings.TrimSpace(source.LotID) == "" {
			return NewValidationError("lot_id", "source lot id is empty", item.MaterialID)
		}
		if err := ValidatePositiveQuantity("source_quantity", source.Quantity); err != nil {
			return err
		}
		total = total.Add(source.Quantity)
	}
	if !total.Equal(item.Quantity) {
		return NewBusinessRuleError("source_sum",
			"sum of source quantities must equal the item total",
			fmt.Sprintf("material %s: sources %s, total %s", item.MaterialID, total, item.Quantity))
	}
	return nil
}
