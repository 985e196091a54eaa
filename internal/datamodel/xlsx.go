package datamodel

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// XLSXSheet 导出工作表名
const XLSXSheet = "Measurements"

var xlsxHeader = []any{"Device ID", "Device Type", "Measurement ID", "Type", "Value", "Timestamp"}

// ToXLSX 每条测量一行写入工作簿
func (m *Model) ToXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", XLSXSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(XLSXSheet, "A1", &xlsxHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	row := 2
	for _, d := range m.GetAllDevices() {
		ts, _ := d.Metadata[models.MetadataTimestamp].(string)
		for _, meas := range d.Measurements {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return err
			}
			values := []any{d.ID, d.Type, meas.ID, string(meas.Type), cellValue(meas.Value), ts}
			if err := f.SetSheetRow(XLSXSheet, cell, &values); err != nil {
				return fmt.Errorf("failed to write row %d: %w", row, err)
			}
			row++
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// cellValue 对象/数组值序列化为 JSON 文本
func cellValue(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return v
}
