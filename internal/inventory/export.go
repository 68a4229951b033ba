package inventory

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/reliefops/reliefops/internal/shared"
)

const exportSheet = "Movements"

var exportHeader = []interface{}{
	"id", "created_at", "type", "material_id", "inventory_id", "counter_inventory_id",
	"location", "to_location", "quantity", "operator_id", "ref", "remark",
}

// ExportMovements writes the filtered movement log as an xlsx workbook.
func (s *Service) ExportMovements(ctx context.Context, filter MovementFilter, w io.Writer) (int, error) {
	if filter.Limit <= 0 || filter.Limit > 10000 {
		filter.Limit = 10000
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		return 0, shared.Validationf("unknown movement type %q", filter.Type)
	}
	movements, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("inventory: export: %w", err)
	}
	if err := writeMovementsXLSX(movements, w); err != nil {
		return 0, fmt.Errorf("inventory: export: %w", err)
	}
	return len(movements), nil
}

func writeMovementsXLSX(movements []Movement, w io.Writer) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), exportSheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return err
	}
	lastCol, err := excelize.ColumnNumberToName(len(exportHeader))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(exportSheet, "A1", lastCol+"1", bold); err != nil {
		return err
	}

	for i, m := range movements {
		row := []interface{}{
			m.ID,
			m.CreatedAt.Format("2006-01-02 15:04:05"),
			string(m.Type),
			m.MaterialID,
			m.InventoryID,
			m.CounterInventoryID,
			m.Location,
			m.ToLocation,
			m.Quantity,
			m.OperatorID,
			m.Ref,
			m.Remark,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.Write(w)
}
