package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/grupomobel/inventario/internal/metrics"
	"github.com/grupomobel/inventario/pkg/ledger"
	"github.com/grupomobel/inventario/pkg/storage"
)

func newTestLedgers(t *testing.T, cfg *ledger.Config) (*storage.MemoryStore, *ledger.ReceivingLedger, *ledger.AllocationLedger) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := zap.NewNop()
	return store,
		ledger.NewReceivingLedger(store, nil, logger, cfg),
		ledger.NewAllocationLedger(store, nil, logger, cfg)
}

func seedMaterial(store *storage.MemoryStore, id, supplierID string) {
	store.SeedMaterial(ledger.Material{
		ID:         id,
		SupplierID: supplierID,
		SKU:        "SKU-" + id,
		Concept:    "TABLERO MDF 15MM",
		Unit:       "PZA",
	})
}

func receiveQuantity(t *testing.T, receiving *ledger.ReceivingLedger, materialID, qty string) *ledger.InboundReceipt {
	t.Helper()
	receipt, err := receiving.Receive(context.Background(), ledger.ReceiveRequest{
		ProjectID:  "PROJ-1",
		SupplierID: "SUP-1",
		Items: []ledger.ReceiptItem{
			{
				MaterialID: materialID,
				Quantity:   decimal.RequireFromString(qty),
				Slot:       ledger.Slot{Rack: "A", Level: "1", Module: "3"},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, receipt.Items, 1)
	return receipt
}

func TestReceiveCreatesInventoryAndLot(t *testing.T) {
	store, receiving, _ := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")

	receipt := receiveQuantity(t, receiving, "MAT-1", "100")
	assert.Equal(t, int64(1), receipt.Folio)

	record, err := store.GetInventoryByMaterial(context.Background(), "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", record.Quantity.StringFixed(2))
	assert.Equal(t, "TABLERO MDF 15MM", record.Concept)

	lot, err := store.GetLot(context.Background(), receipt.Items[0].LotID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", lot.Quantity.StringFixed(2))
	assert.Equal(t, ledger.LotOpen, lot.Status)
	assert.Equal(t, receipt.Folio, lot.ReceiptFolio)
}

func TestReceiveAccumulatesOnSecondDelivery(t *testing.T) {
	store, receiving, _ := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")

	receiveQuantity(t, receiving, "MAT-1", "100")
	second := receiveQuantity(t, receiving, "MAT-1", "25.5")
	assert.Equal(t, int64(2), second.Folio)

	record, err := store.GetInventoryByMaterial(context.Background(), "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "125.50", record.Quantity.StringFixed(2))

	lots, err := store.ListLotsByMaterial(context.Background(), "MAT-1")
	require.NoError(t, err)
	assert.Len(t, lots, 2)
}

func TestReceiveUnknownMaterial(t *testing.T) {
	_, receiving, _ := newTestLedgers(t, nil)

	_, err := receiving.Receive(context.Background(), ledger.ReceiveRequest{
		ProjectID: "PROJ-1",
		Items: []ledger.ReceiptItem{
			{MaterialID: "MAT-MISSING", Quantity: decimal.NewFromInt(10)},
		},
	})
	assert.ErrorIs(t, err, ledger.ErrMaterialNotFound)
}

func TestReceiveIdempotencyToken(t *testing.T) {
	store, receiving, _ := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")

	req := ledger.ReceiveRequest{
		ProjectID: "PROJ-1",
		Token:     "delivery-abc",
		Items: []ledger.ReceiptItem{
			{MaterialID: "MAT-1", Quantity: decimal.NewFromInt(100)},
		},
	}

	_, err := receiving.Receive(context.Background(), req)
	require.NoError(t, err)

	_, err = receiving.Receive(context.Background(), req)
	assert.ErrorIs(t, err, ledger.ErrDuplicateDelivery)

	record, err := store.GetInventoryByMaterial(context.Background(), "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", record.Quantity.StringFixed(2), "replay must not double-count stock")
}

// receiptFailStore refuses the first CreateReceipt so rollback and
// retry behavior can be exercised.
type receiptFailStore struct {
	*storage.MemoryStore
	failures int
}

func (s *receiptFailStore) CreateReceipt(ctx context.Context, receipt *ledger.InboundReceipt) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("receipt write refused")
	}
	return s.MemoryStore.CreateReceipt(ctx, receipt)
}

func TestReceiveRetryAfterFailedReceiptWrite(t *testing.T) {
	store := &receiptFailStore{MemoryStore: storage.NewMemoryStore(), failures: 1}
	receiving := ledger.NewReceivingLedger(store, nil, zap.NewNop(), nil)
	seedMaterial(store.MemoryStore, "MAT-1", "SUP-1")
	seedMaterial(store.MemoryStore, "MAT-2", "SUP-1")
	ctx := context.Background()

	req := ledger.ReceiveRequest{
		ProjectID: "PROJ-1",
		Token:     "delivery-retry",
		Items: []ledger.ReceiptItem{
			{MaterialID: "MAT-1", Quantity: decimal.NewFromInt(100)},
			{MaterialID: "MAT-2", Quantity: decimal.NewFromInt(40)},
		},
	}

	_, err := receiving.Receive(ctx, req)
	require.Error(t, err)

	// The failed receive must leave no stock behind.
	for _, materialID := range []string{"MAT-1", "MAT-2"} {
		record, err := store.GetInventoryByMaterial(ctx, materialID)
		require.NoError(t, err)
		assert.Equal(t, "0.00", record.Quantity.StringFixed(2))
	}
	_, err = store.GetReceipt(ctx, 1)
	assert.ErrorIs(t, err, ledger.ErrReceiptNotFound)

	// The token was released, so the same delivery goes through.
	receipt, err := receiving.Receive(ctx, req)
	require.NoError(t, err)
	require.Len(t, receipt.Items, 2)

	record, err := store.GetInventoryByMaterial(ctx, "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", record.Quantity.StringFixed(2), "retry must count the delivery exactly once")
}

func TestReceiveStampsDefaultWarehouseSlot(t *testing.T) {
	store, receiving, _ := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	ctx := context.Background()

	receipt, err := receiving.Receive(ctx, ledger.ReceiveRequest{
		ProjectID: "PROJ-1",
		Items: []ledger.ReceiptItem{
			{MaterialID: "MAT-1", Quantity: decimal.NewFromInt(10)},
		},
	})
	require.NoError(t, err)
	require.Len(t, receipt.Items, 1)
	assert.Equal(t, "ALMACEN-GENERAL", receipt.Items[0].Slot.Rack)

	lot, err := store.GetLot(ctx, receipt.Items[0].LotID)
	require.NoError(t, err)
	assert.Equal(t, "ALMACEN-GENERAL", lot.Slot.Rack)
}

func TestReceiveStampsPurchaseOrderCompleteness(t *testing.T) {
	store, receiving, _ := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	ctx := context.Background()

	partial, err := receiving.Receive(ctx, ledger.ReceiveRequest{
		PurchaseOrderID: "PO-9",
		ProjectID:       "PROJ-1",
		Items: []ledger.ReceiptItem{
			{MaterialID: "MAT-1", Quantity: decimal.NewFromInt(60), Expected: decimal.NewFromInt(100)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.ReceiptPartial, partial.Status)

	complete, err := receiving.Receive(ctx, ledger.ReceiveRequest{
		PurchaseOrderID: "PO-9",
		ProjectID:       "PROJ-1",
		Items: []ledger.ReceiptItem{
			{MaterialID: "MAT-1", Quantity: decimal.NewFromInt(40), Expected: decimal.NewFromInt(40)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.ReceiptComplete, complete.Status)

	// No purchase order, no completeness to judge.
	plain := receiveQuantity(t, receiving, "MAT-1", "5")
	assert.Equal(t, ledger.ReceiptRegistered, plain.Status)
}

func consumeFromLot(t *testing.T, allocation *ledger.AllocationLedger, materialID, lotID, qty string) *ledger.OutboundRequest {
	t.Helper()
	ctx := context.Background()
	amount := decimal.RequireFromString(qty)

	output, err := allocation.Create(ctx, ledger.CreateOutputRequest{
		ProjectID: "PROJ-1",
		Items: []ledger.OutputItem{
			{
				MaterialID: materialID,
				Quantity:   amount,
				Sources: []ledger.OutputSource{
					{LotID: lotID, Quantity: amount, Destination: "LINEA-1"},
				},
			},
		},
	})
	require.NoError(t, err)

	approved, err := allocation.Approve(ctx, output.Folio, output.Items)
	require.NoError(t, err)
	return approved
}

func TestConsumePartiallyFromLot(t *testing.T) {
	store, receiving, allocation := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	ctx := context.Background()

	receipt := receiveQuantity(t, receiving, "MAT-1", "100")
	lotID := receipt.Items[0].LotID

	output := consumeFromLot(t, allocation, "MAT-1", lotID, "30")
	assert.Equal(t, ledger.OutputApproved, output.Status)

	record, err := store.GetInventoryByMaterial(ctx, "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "70.00", record.Quantity.StringFixed(2))

	lot, err := store.GetLot(ctx, lotID)
	require.NoError(t, err)
	assert.Equal(t, "70.00", lot.Quantity.StringFixed(2))
	assert.Equal(t, ledger.LotPartiallyConsumed, lot.Status)
}

func TestFullConsumptionThenFullReturn(t *testing.T) {
	store, receiving, allocation := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	ctx := context.Background()

	receipt := receiveQuantity(t, receiving, "MAT-1", "50")
	lotID := receipt.Items[0].LotID

	output := consumeFromLot(t, allocation, "MAT-1", lotID, "50")

	lot, err := store.GetLot(ctx, lotID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", lot.Quantity.StringFixed(2))
	assert.Equal(t, ledger.LotFullyConsumed, lot.Status)

	record, err := store.GetInventoryByMaterial(ctx, "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "0.00", record.Quantity.StringFixed(2))

	_, err = allocation.RequestReturn(ctx, output.Folio)
	require.NoError(t, err)
	returned, err := allocation.ApproveReturn(ctx, output.Folio, output.Items, true, nil)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutputReturnFullyApproved, returned.Status)

	record, err = store.GetInventoryByMaterial(ctx, "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "50.00", record.Quantity.StringFixed(2))

	// A reversed lot never returns to open, even when fully restored.
	lot, err = store.GetLot(ctx, lotID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", lot.Quantity.StringFixed(2))
	assert.Equal(t, ledger.LotPartiallyConsumed, lot.Status)
}

func TestPartialReturnRemovesReturnedItems(t *testing.T) {
	store, receiving, allocation := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	seedMaterial(store, "MAT-2", "SUP-1")
	ctx := context.Background()

	lot1 := receiveQuantity(t, receiving, "MAT-1", "40").Items[0].LotID
	lot2 := receiveQuantity(t, receiving, "MAT-2", "60").Items[0].LotID

	items := []ledger.OutputItem{
		{
			MaterialID: "MAT-1",
			Quantity:   decimal.NewFromInt(10),
			Sources:    []ledger.OutputSource{{LotID: lot1, Quantity: decimal.NewFromInt(10)}},
		},
		{
			MaterialID: "MAT-2",
			Quantity:   decimal.NewFromInt(20),
			Sources:    []ledger.OutputSource{{LotID: lot2, Quantity: decimal.NewFromInt(20)}},
		},
	}
	output, err := allocation.Create(ctx, ledger.CreateOutputRequest{ProjectID: "PROJ-1", Items: items})
	require.NoError(t, err)
	_, err = allocation.Approve(ctx, output.Folio, items)
	require.NoError(t, err)
	_, err = allocation.RequestReturn(ctx, output.Folio)
	require.NoError(t, err)

	returned, err := allocation.ApproveReturn(ctx, output.Folio, items[:1], false, nil)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutputReturnPartiallyApproved, returned.Status)
	require.Len(t, returned.Items, 1)
	assert.Equal(t, "MAT-2", returned.Items[0].MaterialID)

	record, err := store.GetInventoryByMaterial(ctx, "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "40.00", record.Quantity.StringFixed(2))

	record, err = store.GetInventoryByMaterial(ctx, "MAT-2")
	require.NoError(t, err)
	assert.Equal(t, "40.00", record.Quantity.StringFixed(2))
}

func TestAllocationConservationRoundTrip(t *testing.T) {
	store, receiving, allocation := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	ctx := context.Background()

	receipt := receiveQuantity(t, receiving, "MAT-1", "73.25")
	lotID := receipt.Items[0].LotID

	before, err := store.GetInventoryByMaterial(ctx, "MAT-1")
	require.NoError(t, err)

	output := consumeFromLot(t, allocation, "MAT-1", lotID, "31.75")
	_, err = allocation.RequestReturn(ctx, output.Folio)
	require.NoError(t, err)
	_, err = allocation.ApproveReturn(ctx, output.Folio, output.Items, true, nil)
	require.NoError(t, err)

	after, err := store.GetInventoryByMaterial(ctx, "MAT-1")
	require.NoError(t, err)
	assert.True(t, before.Quantity.Equal(after.Quantity),
		"inventory %s must equal pre-approval %s", after.Quantity, before.Quantity)

	lot, err := store.GetLot(ctx, lotID)
	require.NoError(t, err)
	assert.Equal(t, "73.25", lot.Quantity.StringFixed(2))
}

func TestApproveRejectsInsufficientStock(t *testing.T) {
	store, receiving, allocation := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	ctx := context.Background()

	receipt := receiveQuantity(t, receiving, "MAT-1", "20")
	lotID := receipt.Items[0].LotID

	amount := decimal.NewFromInt(30)
	output, err := allocation.Create(ctx, ledger.CreateOutputRequest{
		ProjectID: "PROJ-1",
		Items: []ledger.OutputItem{
			{
				MaterialID: "MAT-1",
				Quantity:   amount,
				Sources:    []ledger.OutputSource{{LotID: lotID, Quantity: amount}},
			},
		},
	})
	require.NoError(t, err)

	_, err = allocation.Approve(ctx, output.Folio, output.Items)
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	// The failed approval must leave stock untouched.
	record, err := store.GetInventoryByMaterial(ctx, "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "20.00", record.Quantity.StringFixed(2))

	lot, err := store.GetLot(ctx, lotID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", lot.Quantity.StringFixed(2))
}

func TestPermissiveModeAllowsNegativeStock(t *testing.T) {
	cfg := &ledger.Config{AllowNegativeStock: true, BulkSheetName: "Sheet1"}
	store, receiving, allocation := newTestLedgers(t, cfg)
	seedMaterial(store, "MAT-1", "SUP-1")
	ctx := context.Background()

	receipt := receiveQuantity(t, receiving, "MAT-1", "20")
	lotID := receipt.Items[0].LotID

	consumeFromLot(t, allocation, "MAT-1", lotID, "30")

	record, err := store.GetInventoryByMaterial(ctx, "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "-10.00", record.Quantity.StringFixed(2))
}

func TestApproveDropsUnselectedItems(t *testing.T) {
	store, receiving, allocation := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	seedMaterial(store, "MAT-2", "SUP-1")
	ctx := context.Background()

	lot1 := receiveQuantity(t, receiving, "MAT-1", "40").Items[0].LotID
	lot2 := receiveQuantity(t, receiving, "MAT-2", "60").Items[0].LotID

	items := []ledger.OutputItem{
		{
			MaterialID: "MAT-1",
			Quantity:   decimal.NewFromInt(10),
			Sources:    []ledger.OutputSource{{LotID: lot1, Quantity: decimal.NewFromInt(10)}},
		},
		{
			MaterialID: "MAT-2",
			Quantity:   decimal.NewFromInt(20),
			Sources:    []ledger.OutputSource{{LotID: lot2, Quantity: decimal.NewFromInt(20)}},
		},
	}
	output, err := allocation.Create(ctx, ledger.CreateOutputRequest{ProjectID: "PROJ-1", Items: items})
	require.NoError(t, err)

	approved, err := allocation.Approve(ctx, output.Folio, items[:1])
	require.NoError(t, err)
	require.Len(t, approved.Items, 1)
	assert.Equal(t, "MAT-1", approved.Items[0].MaterialID)

	// The unselected material never moved.
	record, err := store.GetInventoryByMaterial(ctx, "MAT-2")
	require.NoError(t, err)
	assert.Equal(t, "60.00", record.Quantity.StringFixed(2))
}

func TestOutputStateMachineTransitions(t *testing.T) {
	store, receiving, allocation := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	ctx := context.Background()

	lotID := receiveQuantity(t, receiving, "MAT-1", "100").Items[0].LotID
	amount := decimal.NewFromInt(10)
	items := []ledger.OutputItem{
		{
			MaterialID: "MAT-1",
			Quantity:   amount,
			Sources:    []ledger.OutputSource{{LotID: lotID, Quantity: amount}},
		},
	}

	output, err := allocation.Create(ctx, ledger.CreateOutputRequest{ProjectID: "PROJ-1", Items: items})
	require.NoError(t, err)

	// Returns only exist for approved requests.
	_, err = allocation.RequestReturn(ctx, output.Folio)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
	_, err = allocation.ApproveReturn(ctx, output.Folio, items, true, nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = allocation.Approve(ctx, output.Folio, items)
	require.NoError(t, err)

	// Approved requests cannot be cancelled or re-approved.
	_, err = allocation.Cancel(ctx, output.Folio)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
	_, err = allocation.Approve(ctx, output.Folio, items)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestCancelRequestedOutput(t *testing.T) {
	store, receiving, allocation := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	ctx := context.Background()

	lotID := receiveQuantity(t, receiving, "MAT-1", "100").Items[0].LotID
	amount := decimal.NewFromInt(10)

	output, err := allocation.Create(ctx, ledger.CreateOutputRequest{
		ProjectID: "PROJ-1",
		Items: []ledger.OutputItem{
			{
				MaterialID: "MAT-1",
				Quantity:   amount,
				Sources:    []ledger.OutputSource{{LotID: lotID, Quantity: amount}},
			},
		},
	})
	require.NoError(t, err)

	cancelled, err := allocation.Cancel(ctx, output.Folio)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutputCancelled, cancelled.Status)

	// Cancellation never touches stock.
	record, err := store.GetInventoryByMaterial(ctx, "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", record.Quantity.StringFixed(2))
}

func TestCreateOutputRejectsSourceSumMismatch(t *testing.T) {
	_, _, allocation := newTestLedgers(t, nil)

	_, err := allocation.Create(context.Background(), ledger.CreateOutputRequest{
		ProjectID: "PROJ-1",
		Items: []ledger.OutputItem{
			{
				MaterialID: "MAT-1",
				Quantity:   decimal.NewFromInt(10),
				Sources: []ledger.OutputSource{
					{LotID: "lot-1", Quantity: decimal.NewFromInt(4)},
					{LotID: "lot-2", Quantity: decimal.NewFromInt(5)},
				},
			},
		},
	})
	require.Error(t, err)

	var businessErr *ledger.BusinessRuleError
	assert.ErrorAs(t, err, &businessErr)
}

func TestCheckConsumption(t *testing.T) {
	complete := []ledger.DeliveredItem{
		{Delivered: decimal.NewFromInt(10), Required: decimal.NewFromInt(10)},
		{Delivered: decimal.NewFromInt(7), Required: decimal.NewFromInt(5)},
	}
	assert.Equal(t, ledger.ConsumptionComplete, ledger.CheckConsumption(complete))

	partial := append(complete, ledger.DeliveredItem{
		Delivered: decimal.NewFromInt(1), Required: decimal.NewFromInt(2),
	})
	assert.Equal(t, ledger.ConsumptionPartial, ledger.CheckConsumption(partial))

	assert.Equal(t, ledger.ConsumptionComplete, ledger.CheckConsumption(nil))
}

func buildBulkSheet(t *testing.T, rows [][]interface{}) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	header := []interface{}{"RACK", "NIVEL", "MODULO", "SKU", "CONCEPTO", "CODIGO", "CANTIDAD"}
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &header))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	return f
}

func TestReceiveBulk(t *testing.T) {
	store, receiving, _ := newTestLedgers(t, nil)
	store.SeedMaterial(ledger.Material{
		ID:         "MAT-1",
		SupplierID: "SUP-1",
		SKU:        "TAB-MDF-15",
		Concept:    "TABLERO MDF 15MM",
	})
	store.SeedMaterial(ledger.Material{
		ID:           "MAT-2",
		SupplierID:   "SUP-1",
		SKU:          "BIS-35",
		Concept:      "BISAGRA 35MM",
		SupplierCode: "PROV-774",
	})

	file := buildBulkSheet(t, [][]interface{}{
		{"A", "1", "2", "TAB-MDF", "", "", "40"},       // prefix match on SKU
		{"A", "1", "3", "", "", "PROV-774", "12.5"},    // match on supplier code
		{"B", "2", "1", "NO-SUCH", "", "", "10"},       // no match
		{"B", "2", "2", "TAB-MDF", "", "", "cuarenta"}, // bad quantity
	})
	buffer, err := file.WriteToBuffer()
	require.NoError(t, err)

	result, err := receiving.ReceiveBulk(context.Background(), ledger.BulkReceiveRequest{
		SupplierID: "SUP-1",
		ProjectID:  "PROJ-1",
		Sheet:      buffer,
	})
	require.NoError(t, err)

	assert.Len(t, result.Inserted, 2)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, 4, result.Errors[0].Row)
	assert.Equal(t, 5, result.Errors[1].Row)
	require.NotNil(t, result.Receipt)

	record, err := store.GetInventoryByMaterial(context.Background(), "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "40.00", record.Quantity.StringFixed(2))

	record, err = store.GetInventoryByMaterial(context.Background(), "MAT-2")
	require.NoError(t, err)
	assert.Equal(t, "12.50", record.Quantity.StringFixed(2))
}

func TestReceiveBulkAmbiguousRow(t *testing.T) {
	store, receiving, _ := newTestLedgers(t, nil)
	store.SeedMaterial(ledger.Material{ID: "MAT-1", SupplierID: "SUP-1", SKU: "TAB-MDF-15"})
	store.SeedMaterial(ledger.Material{ID: "MAT-2", SupplierID: "SUP-1", SKU: "TAB-MDF-18"})

	file := buildBulkSheet(t, [][]interface{}{
		{"A", "1", "2", "TAB-MDF", "", "", "40"},
	})
	buffer, err := file.WriteToBuffer()
	require.NoError(t, err)

	result, err := receiving.ReceiveBulk(context.Background(), ledger.BulkReceiveRequest{
		SupplierID: "SUP-1",
		ProjectID:  "PROJ-1",
		Sheet:      buffer,
	})
	require.NoError(t, err)

	assert.Empty(t, result.Inserted)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "matches 2 materials")
}

func TestApproveRejectsItemsOutsideRequest(t *testing.T) {
	store, receiving, allocation := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	seedMaterial(store, "MAT-2", "SUP-1")
	ctx := context.Background()

	lot1 := receiveQuantity(t, receiving, "MAT-1", "40").Items[0].LotID
	lot2 := receiveQuantity(t, receiving, "MAT-2", "60").Items[0].LotID

	amount := decimal.NewFromInt(10)
	output, err := allocation.Create(ctx, ledger.CreateOutputRequest{
		ProjectID: "PROJ-1",
		Items: []ledger.OutputItem{
			{
				MaterialID: "MAT-1",
				Quantity:   amount,
				Sources:    []ledger.OutputSource{{LotID: lot1, Quantity: amount}},
			},
		},
	})
	require.NoError(t, err)

	// A material the request never named.
	_, err = allocation.Approve(ctx, output.Folio, []ledger.OutputItem{
		{
			MaterialID: "MAT-2",
			Quantity:   amount,
			Sources:    []ledger.OutputSource{{LotID: lot2, Quantity: amount}},
		},
	})
	var businessErr *ledger.BusinessRuleError
	require.ErrorAs(t, err, &businessErr)

	// The right material drawn from a lot the request never named.
	_, err = allocation.Approve(ctx, output.Folio, []ledger.OutputItem{
		{
			MaterialID: "MAT-1",
			Quantity:   amount,
			Sources:    []ledger.OutputSource{{LotID: lot2, Quantity: amount}},
		},
	})
	require.ErrorAs(t, err, &businessErr)

	// Neither attempt moved stock.
	record, err := store.GetInventoryByMaterial(ctx, "MAT-1")
	require.NoError(t, err)
	assert.Equal(t, "40.00", record.Quantity.StringFixed(2))
	record, err = store.GetInventoryByMaterial(ctx, "MAT-2")
	require.NoError(t, err)
	assert.Equal(t, "60.00", record.Quantity.StringFixed(2))
}

func TestAllocationMetricsCountPerLotDraws(t *testing.T) {
	store, receiving, allocation := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	ctx := context.Background()

	lot1 := receiveQuantity(t, receiving, "MAT-1", "40").Items[0].LotID
	lot2 := receiveQuantity(t, receiving, "MAT-1", "60").Items[0].LotID

	items := []ledger.OutputItem{
		{
			MaterialID: "MAT-1",
			Quantity:   decimal.NewFromInt(30),
			Sources: []ledger.OutputSource{
				{LotID: lot1, Quantity: decimal.NewFromInt(10)},
				{LotID: lot2, Quantity: decimal.NewFromInt(20)},
			},
		},
	}
	output, err := allocation.Create(ctx, ledger.CreateOutputRequest{ProjectID: "PROJ-1", Items: items})
	require.NoError(t, err)

	allocationsBefore := testutil.ToFloat64(metrics.AllocationsTotal)
	_, err = allocation.Approve(ctx, output.Folio, items)
	require.NoError(t, err)
	assert.Equal(t, allocationsBefore+2, testutil.ToFloat64(metrics.AllocationsTotal),
		"one increment per drawn source")

	_, err = allocation.RequestReturn(ctx, output.Folio)
	require.NoError(t, err)

	reversalsBefore := testutil.ToFloat64(metrics.ReversalsTotal)
	_, err = allocation.ApproveReturn(ctx, output.Folio, items, true, nil)
	require.NoError(t, err)
	assert.Equal(t, reversalsBefore+2, testutil.ToFloat64(metrics.ReversalsTotal),
		"one increment per credited source")
}

func TestMovementJournal(t *testing.T) {
	store, receiving, allocation := newTestLedgers(t, nil)
	seedMaterial(store, "MAT-1", "SUP-1")
	ctx := context.Background()

	lotID := receiveQuantity(t, receiving, "MAT-1", "100").Items[0].LotID
	output := consumeFromLot(t, allocation, "MAT-1", lotID, "30")
	_, err := allocation.RequestReturn(ctx, output.Folio)
	require.NoError(t, err)
	_, err = allocation.ApproveReturn(ctx, output.Folio, output.Items, true, nil)
	require.NoError(t, err)

	movements, err := store.ListMovementsByMaterial(ctx, "MAT-1", 0)
	require.NoError(t, err)
	require.Len(t, movements, 3)

	// Newest first: reversal, outbound, inbound.
	assert.Equal(t, ledger.MovementReversal, movements[0].Type)
	assert.Equal(t, "30.00", movements[0].Quantity.StringFixed(2))
	assert.Equal(t, ledger.MovementOutbound, movements[1].Type)
	assert.Equal(t, "-30.00", movements[1].Quantity.StringFixed(2))
	assert.Equal(t, ledger.MovementInbound, movements[2].Type)
	assert.Equal(t, "100.00", movements[2].Quantity.StringFixed(2))
}
