package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/grupomobel/inventario/pkg/ledger"
	"github.com/grupomobel/inventario/pkg/planner"
)

// PostgresStore implements the ledger and planner storage contracts on
// PostgreSQL. Every quantity mutation is a single conditional UPDATE so
// two concurrent callers can never both read the same remainder and
// independently decrement it.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ ledger.Storage  = (*PostgresStore)(nil)
	_ planner.Storage = (*PostgresStore)(nil)
)

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to postgres")
	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetMaterial(ctx context.Context, materialID string) (*ledger.Material, error) {
	query := `
		SELECT id, supplier_id, supplier_code, sku, concept, unit,
		       presentation, unit_price, automation, division,
		       created_at, updated_at
		FROM materials WHERE id = $1`

	var m ledger.Material
	err := s.db.QueryRowContext(ctx, query, materialID).Scan(
		&m.ID, &m.SupplierID, &m.SupplierCode, &m.SKU, &m.Concept, &m.Unit,
		&m.Presentation, &m.UnitPrice, &m.Automation, &m.Division,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrMaterialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get material: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) ListMaterialsBySupplier(ctx context.Context, supplierID string) ([]ledger.Material, error) {
	query := `
		SELECT id, supplier_id, supplier_code, sku, concept, unit,
		       presentation, unit_price, automation, division,
		       created_at, updated_at
		FROM materials WHERE supplier_id = $1 ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, supplierID)
	if err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	defer rows.Close()

	var materials []ledger.Material
	for rows.Next() {
		var m ledger.Material
		if err := rows.Scan(
			&m.ID, &m.SupplierID, &m.SupplierCode, &m.SKU, &m.Concept, &m.Unit,
			&m.Presentation, &m.UnitPrice, &m.Automation, &m.Division,
			&m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan material: %w", err)
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

func (s *PostgresStore) CreateInventory(ctx context.Context, record *ledger.InventoryRecord) error {
	query := `
		INSERT INTO inventory (id, material_id, supplier_id, sku, concept, unit,
		                       quantity, rack, level, module, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.MaterialID, record.SupplierID, record.SKU,
		record.Concept, record.Unit, record.Quantity,
		record.Slot.Rack, record.Slot.Level, record.Slot.Module,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create inventory record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInventoryByMaterial(ctx context.Context, materialID string) (*ledger.InventoryRecord, error) {
	query := `
		SELECT id, material_id, supplier_id, sku, concept, unit, quantity,
		       rack, level, module, created_at, updated_at
		FROM inventory WHERE material_id = $1`

	var r ledger.InventoryRecord
	err := s.db.QueryRowContext(ctx, query, materialID).Scan(
		&r.ID, &r.MaterialID, &r.SupplierID, &r.SKU, &r.Concept, &r.Unit,
		&r.Quantity, &r.Slot.Rack, &r.Slot.Level, &r.Slot.Module,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrInventoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory record: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) AddToInventory(ctx context.Context, materialID string, qty decimal.Decimal) error {
	query := `
		UPDATE inventory
		SET quantity = quantity + $2, updated_at = NOW()
		WHERE material_id = $1`

	result, err := s.db.ExecContext(ctx, query, materialID, qty)
	if err != nil {
		return fmt.Errorf("failed to increment inventory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ledger.ErrInventoryNotFound
	}
	return nil
}

func (s *PostgresStore) TakeFromInventory(ctx context.Context, materialID string, qty decimal.Decimal, permissive bool) error {
	// The stock guard lives in the WHERE clause so the check and the
	// decrement are one atomic statement.
	query := `
		UPDATE inventory
		SET quantity = quantity - $2, updated_at = NOW()
		WHERE material_id = $1`
	if !permissive {
		query += ` AND quantity >= $2`
	}

	result, err := s.db.ExecContext(ctx, query, materialID, qty)
	if err != nil {
		return fmt.Errorf("failed to decrement inventory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing record from a failed guard.
		if _, getErr := s.GetInventoryByMaterial(ctx, materialID); getErr != nil {
			return getErr
		}
		return ledger.ErrInsufficientStock
	}
	return nil
}

func (s *PostgresStore) CreateLot(ctx context.Context, lot *ledger.InventoryLot) error {
	query := `
		INSERT INTO inventory_lots (id, inventory_id, receipt_folio, material_id,
		                            project_id, quantity, rack, level, module,
		                            status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query,
		lot.ID, lot.InventoryID, lot.ReceiptFolio, lot.MaterialID,
		lot.ProjectID, lot.Quantity, lot.Slot.Rack, lot.Slot.Level,
		lot.Slot.Module, lot.Status, lot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lot: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLot(ctx context.Context, lotID string) (*ledger.InventoryLot, error) {
	query := `
		SELECT id, inventory_id, receipt_folio, material_id, project_id,
		       quantity, rack, level, module, status, created_at
		FROM inventory_lots WHERE id = $1`

	var l ledger.InventoryLot
	err := s.db.QueryRowContext(ctx, query, lotID).Scan(
		&l.ID, &l.InventoryID, &l.ReceiptFolio, &l.MaterialID, &l.ProjectID,
		&l.Quantity, &l.Slot.Rack, &l.Slot.Level, &l.Slot.Module,
		&l.Status, &l.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrLotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lot: %w", err)
	}
	return &l, nil
}

func (s *PostgresStore) ListLotsByMaterial(ctx context.Context, materialID string) ([]ledger.InventoryLot, error) {
	query := `
		SELECT id, inventory_id, receipt_folio, material_id, project_id,
		       quantity, rack, level, module, status, created_at
		FROM inventory_lots WHERE material_id = $1 ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, materialID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	defer rows.Close()

	var lots []ledger.InventoryLot
	for rows.Next() {
		var l ledger.InventoryLot
		if err := rows.Scan(
			&l.ID, &l.InventoryID, &l.ReceiptFolio, &l.MaterialID, &l.ProjectID,
			&l.Quantity, &l.Slot.Rack, &l.Slot.Level, &l.Slot.Module,
			&l.Status, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func (s *PostgresStore) DrawFromLot(ctx context.Context, lotID string, qty decimal.Decimal, permissive bool) (ledger.LotStatus, error) {
	// Status is recomputed from the pre-decrement remainder inside the
	// same statement that applies the decrement.
	query := `
		UPDATE inventory_lots
		SET quantity = quantity - $2,
		    status = CASE WHEN quantity <= $2 THEN $3::int ELSE $4::int END
		WHERE id = $1`
	if !permissive {
		query += ` AND quantity >= $2`
	}
	query += ` RETURNING status`

	var status ledger.LotStatus
	err := s.db.QueryRowContext(ctx, query, lotID, qty,
		ledger.LotFullyConsumed, ledger.LotPartiallyConsumed).Scan(&status)
	if err == sql.ErrNoRows {
		if _, getErr := s.GetLot(ctx, lotID); getErr != nil {
			return 0, getErr
		}
		return 0, ledger.ErrInsufficientStock
	}
	if err != nil {
		return 0, fmt.Errorf("failed to draw from lot: %w", err)
	}
	return status, nil
}

func (s *PostgresStore) RestoreToLot(ctx context.Context, lotID string, qty decimal.Decimal) (ledger.LotStatus, error) {
	query := `
		UPDATE inventory_lots
		SET quantity = quantity + $2, status = $3
		WHERE id = $1
		RETURNING status`

	var status ledger.LotStatus
	err := s.db.QueryRowContext(ctx, query, lotID, qty, ledger.LotPartiallyConsumed).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, ledger.ErrLotNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to restore lot: %w", err)
	}
	return status, nil
}

func (s *PostgresStore) CreateReceipt(ctx context.Context, receipt *ledger.InboundReceipt) error {
	items, err := json.Marshal(receipt.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt items: %w", err)
	}

	query := `
		INSERT INTO inbound_receipts (folio, purchase_order_id, supplier_id,
		                              project_id, items, notes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.db.ExecContext(ctx, query,
		receipt.Folio, receipt.PurchaseOrderID, receipt.SupplierID,
		receipt.ProjectID, items, receipt.Notes, receipt.Status, receipt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create receipt: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReceipt(ctx context.Context, folio int64) (*ledger.InboundReceipt, error) {
	query := `
		SELECT folio, purchase_order_id, supplier_id, project_id, items,
		       notes, status, created_at
		FROM inbound_receipts WHERE folio = $1`

	var r ledger.InboundReceipt
	var items []byte
	err := s.db.QueryRowContext(ctx, query, folio).Scan(
		&r.Folio, &r.PurchaseOrderID, &r.SupplierID, &r.ProjectID,
		&items, &r.Notes, &r.Status, &r.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	if err := json.Unmarshal(items, &r.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt items: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) CreateOutput(ctx context.Context, output *ledger.OutboundRequest) error {
	items, err := json.Marshal(output.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal output items: %w", err)
	}

	query := `
		INSERT INTO outbound_requests (folio, project_id, items, status, notes,
		                               created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.db.ExecContext(ctx, query,
		output.Folio, output.ProjectID, items, output.Status, output.Notes,
		output.CreatedAt, output.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOutput(ctx context.Context, folio int64) (*ledger.OutboundRequest, error) {
	query := `
		SELECT folio, project_id, items, status, notes, created_at, updated_at
		FROM outbound_requests WHERE folio = $1`

	var o ledger.OutboundRequest
	var items []byte
	err := s.db.QueryRowContext(ctx, query, folio).Scan(
		&o.Folio, &o.ProjectID, &items, &o.Status, &o.Notes,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrOutputNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get output: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output items: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) UpdateOutput(ctx context.Context, output *ledger.OutboundRequest) error {
	items, err := json.Marshal(output.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal output items: %w", err)
	}

	query := `
		UPDATE outbound_requests
		SET items = $2, status = $3, notes = $4, updated_at = $5
		WHERE folio = $1`

	result, err := s.db.ExecContext(ctx, query,
		output.Folio, items, output.Status, output.Notes, output.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update output: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ledger.ErrOutputNotFound
	}
	return nil
}

func (s *PostgresStore) CreateMovement(ctx context.Context, movement *ledger.Movement) error {
	query := `
		INSERT INTO movements (id, type, material_id, lot_id, folio, quantity,
		                       created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		movement.ID, movement.Type, movement.MaterialID, movement.LotID,
		movement.Folio, movement.Quantity, movement.CreatedAt, movement.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create movement: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMovementsByMaterial(ctx context.Context, materialID string, limit int) ([]ledger.Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, type, material_id, lot_id, folio, quantity, created_at, created_by
		FROM movements WHERE material_id = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, materialID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	defer rows.Close()

	var movements []ledger.Movement
	for rows.Next() {
		var m ledger.Movement
		if err := rows.Scan(
			&m.ID, &m.Type, &m.MaterialID, &m.LotID, &m.Folio, &m.Quantity,
			&m.CreatedAt, &m.CreatedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *PostgresStore) NextFolio(ctx context.Context, name string) (int64, error) {
	// Atomic increment-and-return; never computed by scanning for the
	// current maximum.
	query := `
		INSERT INTO folios (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = folios.value + 1
		RETURNING value`

	var value int64
	if err := s.db.QueryRowContext(ctx, query, name).Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to advance folio counter: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) ClaimToken(ctx context.Context, token string) error {
	query := `INSERT INTO delivery_tokens (token, claimed_at) VALUES ($1, NOW())`

	_, err := s.db.ExecContext(ctx, query, token)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ledger.ErrDuplicateDelivery
		}
		return fmt.Errorf("failed to claim token: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReleaseToken(ctx context.Context, token string) error {
	query := `DELETE FROM delivery_tokens WHERE token = $1`

	if _, err := s.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("failed to release token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProductionOrder(ctx context.Context, orderID string) (*planner.ProductionOrder, error) {
	query := `
		SELECT id, client_id, site_id, lots, lot_counts, created_at, updated_at
		FROM production_orders WHERE id = $1`

	var o planner.ProductionOrder
	var lots, counts []byte
	err := s.db.QueryRowContext(ctx, query, orderID).Scan(
		&o.ID, &o.ClientID, &o.SiteID, &lots, &counts, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, planner.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get production order: %w", err)
	}
	if err := json.Unmarshal(lots, &o.Lots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lots: %w", err)
	}
	if err := json.Unmarshal(counts, &o.LotCounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lot counts: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) SaveProductionOrder(ctx context.Context, order *planner.ProductionOrder) error {
	lots, err := json.Marshal(order.Lots)
	if err != nil {
		return fmt.Errorf("failed to marshal lots: %w", err)
	}
	counts, err := json.Marshal(order.LotCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal lot counts: %w", err)
	}

	query := `
		INSERT INTO production_orders (id, client_id, site_id, lots, lot_counts,
		                               created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			lots = EXCLUDED.lots,
			lot_counts = EXCLUDED.lot_counts,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		order.ID, order.ClientID, order.SiteID, lots, counts,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save production order: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertVolumetry(ctx context.Context, record *planner.VolumetryRecord) error {
	areas, err := json.Marshal(record.Areas)
	if err != nil {
		return fmt.Errorf("failed to marshal areas: %w", err)
	}

	query := `
		INSERT INTO volumetry (id, client_id, site_id, prototype, material_id,
		                       areas, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (client_id, site_id, prototype, material_id) DO UPDATE SET
			areas = EXCLUDED.areas,
			total = EXCLUDED.total,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.ClientID, record.SiteID, record.Prototype,
		record.MaterialID, areas, record.Total, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert volumetry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVolumetryBySite(ctx context.Context, clientID, siteID string) ([]planner.VolumetryRecord, error) {
	query := `
		SELECT id, client_id, site_id, prototype, material_id, areas, total,
		       created_at, updated_at
		FROM volumetry WHERE client_id = $1 AND site_id = $2
		ORDER BY material_id`

	rows, err := s.db.QueryContext(ctx, query, clientID, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumetry: %w", err)
	}
	defer rows.Close()

	var records []planner.VolumetryRecord
	for rows.Next() {
		var r planner.VolumetryRecord
		var areas []byte
		if err := rows.Scan(
			&r.ID, &r.ClientID, &r.SiteID, &r.Prototype, &r.MaterialID,
			&areas, &r.Total, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan volumetry: %w", err)
		}
		if err := json.Unmarshal(areas, &r.Areas); err != nil {
			return nil, fmt.Errorf("failed to unmarshal areas: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) UpsertExplosion(ctx context.Context, record *planner.ExplosionRecord) error {
	areas, err := json.Marshal(record.Areas)
	if err != nil {
		return fmt.Errorf("failed to marshal areas: %w", err)
	}

	query := `
		INSERT INTO explosions (id, order_id, material_id, areas, total, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, material_id) DO UPDATE SET
			areas = EXCLUDED.areas,
			total = EXCLUDED.total,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.OrderID, record.MaterialID, areas, record.Total,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert explosion: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListExplosionByOrder(ctx context.Context, orderID string) ([]planner.ExplosionRecord, error) {
	query := `
		SELECT id, order_id, material_id, areas, total, updated_at
		FROM explosions WHERE order_id = $1 ORDER BY material_id`

	rows, err := s.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list explosions: %w", err)
	}
	defer rows.Close()

	var records []planner.ExplosionRecord
	for rows.Next() {
		var r planner.ExplosionRecord
		var areas []byte
		if err := rows.Scan(
			&r.ID, &r.OrderID, &r.MaterialID, &areas, &r.Total, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan explosion: %w", err)
		}
		if err := json.Unmarshal(areas, &r.Areas); err != nil {
			return nil, fmt.Errorf("failed to unmarshal areas: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) UpsertQuantification(ctx context.Context, record *planner.QuantificationRecord) error {
	buckets, err := json.Marshal(record.Buckets)
	if err != nil {
		return fmt.Errorf("failed to marshal buckets: %w", err)
	}

	query := `
		INSERT INTO quantifications (id, client_id, site_id, prototype, buckets, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (client_id, site_id, prototype) DO UPDATE SET
			buckets = EXCLUDED.buckets,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.ClientID, record.SiteID, record.Prototype,
		buckets, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert quantification: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQuantification(ctx context.Context, clientID, siteID, prototype string) (*planner.QuantificationRecord, error) {
	query := `
		SELECT id, client_id, site_id, prototype, buckets, updated_at
		FROM quantifications
		WHERE client_id = $1 AND site_id = $2 AND prototype = $3`

	var r planner.QuantificationRecord
	var buckets []byte
	err := s.db.QueryRowContext(ctx, query, clientID, siteID, prototype).Scan(
		&r.ID, &r.ClientID, &r.SiteID, &r.Prototype, &buckets, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, planner.ErrQuantificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quantification: %w", err)
	}
	if err := json.Unmarshal(buckets, &r.Buckets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal buckets: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) CreatePurchaseOrder(ctx context.Context, order *planner.PurchaseOrder) error {
	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return fmt.Errorf("failed to marshal lines: %w", err)
	}

	query := `
		INSERT INTO purchase_orders (id, folio, order_id, supplier_id, status,
		                             lines, subtotal, iva, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.db.ExecContext(ctx, query,
		order.ID, order.Folio, order.OrderID, order.SupplierID, order.Status,
		lines, order.Subtotal, order.IVA, order.Total,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create purchase order: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPurchaseOrders(ctx context.Context, orderID, supplierID string) ([]planner.PurchaseOrder, error) {
	query := `
		SELECT id, folio, order_id, supplier_id, status, lines, subtotal, iva,
		       total, created_at, updated_at
		FROM purchase_orders
		WHERE order_id = $1 AND supplier_id = $2 ORDER BY folio`

	rows, err := s.db.QueryContext(ctx, query, orderID, supplierID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase orders: %w", err)
	}
	defer rows.Close()

	var orders []planner.PurchaseOrder
	for rows.Next() {
		var o planner.PurchaseOrder
		var lines []byte
		if err := rows.Scan(
			&o.ID, &o.Folio, &o.OrderID, &o.SupplierID, &o.Status, &lines,
			&o.Subtotal, &o.IVA, &o.Total, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan purchase order: %w", err)
		}
		if err := json.Unmarshal(lines, &o.Lines); err != nil {
			return nil, fmt.Errorf("failed to unmarshal lines: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
