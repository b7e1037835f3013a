package ledger

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateMaterialID(t *testing.T) {
	assert.NoError(t, ValidateMaterialID("MAT-001"))
	assert.NoError(t, ValidateMaterialID("mat_2.b"))
	assert.Error(t, ValidateMaterialID(""))
	assert.Error(t, ValidateMaterialID("mat con espacios"))
	assert.Error(t, ValidateMaterialID(strings.Repeat("a", 256)))
}

func TestValidatePositiveQuantity(t *testing.T) {
	assert.NoError(t, ValidatePositiveQuantity("quantity", decimal.NewFromInt(1)))
	assert.Error(t, ValidatePositiveQuantity("quantity", decimal.Zero))
	assert.Error(t, ValidatePositiveQuantity("quantity", decimal.NewFromInt(-3)))
}

func TestValidateOutputItem(t *testing.T) {
	item := OutputItem{
		MaterialID: "MAT-1",
		Quantity:   decimal.NewFromInt(10),
		Sources: []OutputSource{
			{LotID: "lot-1", Quantity: decimal.NewFromInt(6)},
			{LotID: "lot-2", Quantity: decimal.NewFromInt(4)},
		},
	}
	assert.NoError(t, ValidateOutputItem(item))

	t.Run("no sources", func(t *testing.T) {
		bad := item
		bad.Sources = nil
		assert.Error(t, ValidateOutputItem(bad))
	})

	t.Run("blank lot id", func(t *testing.T) {
		bad := item
		bad.Sources = []OutputSource{{LotID: "  ", Quantity: decimal.NewFromInt(10)}}
		assert.Error(t, ValidateOutputItem(bad))
	})

	t.Run("source sum mismatch", func(t *testing.T) {
		bad := item
		bad.Quantity = decimal.NewFromInt(11)
		err := ValidateOutputItem(bad)
		assert.Error(t, err)

		var businessErr *BusinessRuleError
		assert.ErrorAs(t, err, &businessErr)
		assert.Equal(t, "source_sum", businessErr.Rule)
	})
}

func TestValidateSlot(t *testing.T) {
	assert.NoError(t, ValidateSlot(Slot{}))
	assert.NoError(t, ValidateSlot(Slot{Rack: "A", Level: "2", Module: "7"}))
	assert.Error(t, ValidateSlot(Slot{Rack: strings.Repeat("x", 65)}))
}
