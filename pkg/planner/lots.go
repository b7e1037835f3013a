package planner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/grupomobel/inventario/pkg/ledger"
	"github.com/grupomobel/inventario/pkg/quantity"
)

// lot upload column layout: [block, lot, laid, prototype, area,
// status, percentage], header on row 1, data from row 2.
const lotColumns = 7

// LotUploadResult reports the committed lots and the rejected rows of
// one upload together.
type LotUploadResult struct {
	Inserted int               `json:"inserted"`
	Errors   []ledger.RowError `json:"errors"`
}

// UploadLots replaces a production order's home lots from a
// spreadsheet. Rows with an unknown laid side, a blank prototype or an
// unparseable area are collected as row errors; every valid row is
// committed. The order's lot composition is rederived from the new
// lots, which invalidates its explosion.
func (p *Planner) UploadLots(ctx context.Context, orderID string, sheet io.Reader) (*LotUploadResult, error) {
	order, err := p.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	file, err := excelize.OpenReader(sheet)
	if err != nil {
		return nil, ledger.NewValidationError("sheet", "failed to open spreadsheet", err.Error())
	}
	defer file.Close()

	rows, err := file.GetRows(p.config.LotSheetName)
	if err != nil {
		return nil, ledger.NewValidationError("sheet", fmt.Sprintf("failed to read worksheet %s", p.config.LotSheetName), err.Error())
	}

	result := &LotUploadResult{}
	var lots []HomeLot

	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		rowNumber := i + 1

		if len(row) < lotColumns {
			result.Errors = append(result.Errors, ledger.RowError{Row: rowNumber, Message: "too few columns"})
			continue
		}

		laid := strings.ToUpper(strings.TrimSpace(row[2]))
		if laid != LaidLeft && laid != LaidRight {
			result.Errors = append(result.Errors, ledger.RowError{Row: rowNumber,
				Message: fmt.Sprintf("laid %q must be %s or %s", row[2], LaidLeft, LaidRight)})
			continue
		}

		prototype := strings.TrimSpace(row[3])
		if prototype == "" {
			result.Errors = append(result.Errors, ledger.RowError{Row: rowNumber, Message: "prototype is empty"})
			continue
		}

		area, err := quantity.Parse(row[4])
		if err != nil {
			result.Errors = append(result.Errors, ledger.RowError{Row: rowNumber,
				Message: fmt.Sprintf("area %q is not a valid decimal", row[4])})
			continue
		}

		percentage, err := quantity.Parse(row[6])
		if err != nil {
			result.Errors = append(result.Errors, ledger.RowError{Row: rowNumber,
				Message: fmt.Sprintf("percentage %q is not a valid decimal", row[6])})
			continue
		}

		lots = append(lots, HomeLot{
			Block:      strings.TrimSpace(row[0]),
			Lot:        strings.TrimSpace(row[1]),
			Laid:       laid,
			Prototype:  prototype,
			Area:       area,
			Status:     strings.TrimSpace(row[5]),
			Percentage: percentage,
		})
	}

	if len(lots) > 0 {
		order.Lots = lots
		order.LotCounts = order.CountLots()
		order.UpdatedAt = time.Now()
		if err := p.storage.SaveProductionOrder(ctx, order); err != nil {
			return nil, ledger.NewStorageError("save_order", "failed to persist production order", err)
		}
		result.Inserted = len(lots)
	}

	p.logger.Info("lot sheet processed",
		zap.String("order_id", orderID),
		zap.Int("inserted", result.Inserted),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}
