// Package storage provides the persistence implementations shared by
// the ledger and the planner: a PostgreSQL store for production and an
// in-memory store for tests and local development.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/grupomobel/inventario/pkg/ledger"
	"github.com/grupomobel/inventario/pkg/planner"
)

// MemoryStore is a thread-safe in-memory implementation of both the
// ledger and planner storage contracts. The quantity mutations hold the
// write lock for the whole check-and-change, which gives the same
// atomic conditional-update semantics as the SQL store.
type MemoryStore struct {
	mu sync.RWMutex

	materials map[string]ledger.Material
	inventory map[string]ledger.InventoryRecord // keyed by material id
	lots      map[string]ledger.InventoryLot
	receipts  map[int64]ledger.InboundReceipt
	outputs   map[int64]ledger.OutboundRequest
	movements []ledger.Movement
	counters  map[string]int64
	tokens    map[string]bool

	orders          map[string]planner.ProductionOrder
	volumetry       map[string]planner.VolumetryRecord // keyed by client|site|prototype|material
	explosions      map[string]planner.ExplosionRecord // keyed by order|material
	quantifications map[string]planner.QuantificationRecord
	purchaseOrders  map[string]planner.PurchaseOrder
}

var (
	_ ledger.Storage  = (*MemoryStore)(nil)
	_ planner.Storage = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		materials:       make(map[string]ledger.Material),
		inventory:       make(map[string]ledger.InventoryRecord),
		lots:            make(map[string]ledger.InventoryLot),
		receipts:        make(map[int64]ledger.InboundReceipt),
		outputs:         make(map[int64]ledger.OutboundRequest),
		counters:        make(map[string]int64),
		tokens:          make(map[string]bool),
		orders:          make(map[string]planner.ProductionOrder),
		volumetry:       make(map[string]planner.VolumetryRecord),
		explosions:      make(map[string]planner.ExplosionRecord),
		quantifications: make(map[string]planner.QuantificationRecord),
		purchaseOrders:  make(map[string]planner.PurchaseOrder),
	}
}

// SeedMaterial loads a material into the master, for tests and local
// setups.
func (m *MemoryStore) SeedMaterial(material ledger.Material) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.materials[material.ID] = material
}

func (m *MemoryStore) GetMaterial(ctx context.Context, materialID string) (*ledger.Material, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	material, ok := m.materials[materialID]
	if !ok {
		return nil, ledger.ErrMaterialNotFound
	}
	return &material, nil
}

func (m *MemoryStore) ListMaterialsBySupplier(ctx context.Context, supplierID string) ([]ledger.Material, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []ledger.Material
	for _, material := range m.materials {
		if material.SupplierID == supplierID {
			result = append(result, material)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) CreateInventory(ctx context.Context, record *ledger.InventoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventory[record.MaterialID] = *record
	return nil
}

func (m *MemoryStore) GetInventoryByMaterial(ctx context.Context, materialID string) (*ledger.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.inventory[materialID]
	if !ok {
		return nil, ledger.ErrInventoryNotFound
	}
	return &record, nil
}

func (m *MemoryStore) AddToInventory(ctx context.Context, materialID string, qty decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.inventory[materialID]
	if !ok {
		return ledger.ErrInventoryNotFound
	}
	record.Quantity = record.Quantity.Add(qty)
	record.UpdatedAt = time.Now()
	m.inventory[materialID] = record
	return nil
}

func (m *MemoryStore) TakeFromInventory(ctx context.Context, materialID string, qty decimal.Decimal, permissive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.inventory[materialID]
	if !ok {
		return ledger.ErrInventoryNotFound
	}
	if !permissive && record.Quantity.LessThan(qty) {
		return ledger.ErrInsufficientStock
	}
	record.Quantity = record.Quantity.Sub(qty)
	record.UpdatedAt = time.Now()
	m.inventory[materialID] = record
	return nil
}

func (m *MemoryStore) CreateLot(ctx context.Context, lot *ledger.InventoryLot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[lot.ID] = *lot
	return nil
}

func (m *MemoryStore) GetLot(ctx context.Context, lotID string) (*ledger.InventoryLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lot, ok := m.lots[lotID]
	if !ok {
		return nil, ledger.ErrLotNotFound
	}
	return &lot, nil
}

func (m *MemoryStore) ListLotsByMaterial(ctx context.Context, materialID string) ([]ledger.InventoryLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []ledger.InventoryLot
	for _, lot := range m.lots {
		if lot.MaterialID == materialID {
			result = append(result, lot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) DrawFromLot(ctx context.Context, lotID string, qty decimal.Decimal, permissive bool) (ledger.LotStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lot, ok := m.lots[lotID]
	if !ok {
		return 0, ledger.ErrLotNotFound
	}
	if !permissive && lot.Quantity.LessThan(qty) {
		return 0, ledger.ErrInsufficientStock
	}
	if qty.GreaterThanOrEqual(lot.Quantity) {
		lot.Status = ledger.LotFullyConsumed
	} else {
		lot.Status = ledger.LotPartiallyConsumed
	}
	lot.Quantity = lot.Quantity.Sub(qty)
	m.lots[lotID] = lot
	return lot.Status, nil
}

func (m *MemoryStore) RestoreToLot(ctx context.Context, lotID string, qty decimal.Decimal) (ledger.LotStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lot, ok := m.lots[lotID]
	if !ok {
		return 0, ledger.ErrLotNotFound
	}
	lot.Quantity = lot.Quantity.Add(qty)
	// A reversed lot never returns to open, even when fully restored.
	lot.Status = ledger.LotPartiallyConsumed
	m.lots[lotID] = lot
	return lot.Status, nil
}

func (m *MemoryStore) CreateReceipt(ctx context.Context, receipt *ledger.InboundReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[receipt.Folio] = *receipt
	return nil
}

func (m *MemoryStore) GetReceipt(ctx context.Context, folio int64) (*ledger.InboundReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	receipt, ok := m.receipts[folio]
	if !ok {
		return nil, ledger.ErrReceiptNotFound
	}
	return &receipt, nil
}

func (m *MemoryStore) CreateOutput(ctx context.Context, output *ledger.OutboundRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[output.Folio] = *output
	return nil
}

func (m *MemoryStore) GetOutput(ctx context.Context, folio int64) (*ledger.OutboundRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	output, ok := m.outputs[folio]
	if !ok {
		return nil, ledger.ErrOutputNotFound
	}
	return &output, nil
}

func (m *MemoryStore) UpdateOutput(ctx context.Context, output *ledger.OutboundRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outputs[output.Folio]; !ok {
		return ledger.ErrOutputNotFound
	}
	m.outputs[output.Folio] = *output
	return nil
}

func (m *MemoryStore) CreateMovement(ctx context.Context, movement *ledger.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements = append(m.movements, *movement)
	return nil
}

func (m *MemoryStore) ListMovementsByMaterial(ctx context.Context, materialID string, limit int) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []ledger.Movement
	for i := len(m.movements) - 1; i >= 0; i-- {
		if m.movements[i].MaterialID != materialID {
			continue
		}
		result = append(result, m.movements[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) NextFolio(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
	return m.counters[name], nil
}

func (m *MemoryStore) ClaimToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens[token] {
		return ledger.ErrDuplicateDelivery
	}
	m.tokens[token] = true
	return nil
}

func (m *MemoryStore) ReleaseToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetProductionOrder(ctx context.Context, orderID string) (*planner.ProductionOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, planner.ErrOrderNotFound
	}
	return &order, nil
}

func (m *MemoryStore) SaveProductionOrder(ctx context.Context, order *planner.ProductionOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = *order
	return nil
}

func volumetryKey(clientID, siteID, prototype, materialID string) string {
	return strings.Join([]string{clientID, siteID, prototype, materialID}, "|")
}

func (m *MemoryStore) UpsertVolumetry(ctx context.Context, record *planner.VolumetryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := volumetryKey(record.ClientID, record.SiteID, record.Prototype, record.MaterialID)
	m.volumetry[key] = *record
	return nil
}

func (m *MemoryStore) ListVolumetryBySite(ctx context.Context, clientID, siteID string) ([]planner.VolumetryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []planner.VolumetryRecord
	for _, record := range m.volumetry {
		if record.ClientID == clientID && record.SiteID == siteID {
			result = append(result, record)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].MaterialID < result[j].MaterialID
	})
	return result, nil
}

func (m *MemoryStore) UpsertExplosion(ctx context.Context, record *planner.ExplosionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.explosions[record.OrderID+"|"+record.MaterialID] = *record
	return nil
}

func (m *MemoryStore) ListExplosionByOrder(ctx context.Context, orderID string) ([]planner.ExplosionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []planner.ExplosionRecord
	for _, record := range m.explosions {
		if record.OrderID == orderID {
			result = append(result, record)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].MaterialID < result[j].MaterialID
	})
	return result, nil
}

func (m *MemoryStore) UpsertQuantification(ctx context.Context, record *planner.QuantificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := volumetryKey(record.ClientID, record.SiteID, record.Prototype, "")
	m.quantifications[key] = *record
	return nil
}

func (m *MemoryStore) GetQuantification(ctx context.Context, clientID, siteID, prototype string) (*planner.QuantificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.quantifications[volumetryKey(clientID, siteID, prototype, "")]
	if !ok {
		return nil, planner.ErrQuantificationNotFound
	}
	return &record, nil
}

func (m *MemoryStore) CreatePurchaseOrder(ctx context.Context, order *planner.PurchaseOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchaseOrders[order.ID] = *order
	return nil
}

func (m *MemoryStore) ListPurchaseOrders(ctx context.Context, orderID, supplierID string) ([]planner.PurchaseOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []planner.PurchaseOrder
	for _, order := range m.purchaseOrders {
		if order.OrderID == orderID && order.SupplierID == supplierID {
			result = append(result, order)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Folio < result[j].Folio })
	return result, nil
}
