package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary  = "Executive Summary"
	sheetByStatus = "By Status"
	timeLayout    = "2006-01-02 15:04"
)

var summaryHeaders = []interface{}{
	"Session ID", "Project", "Owner", "Status", "Category", "Severity", "Max Score", "Summary", "Overridden", "Overridden At", "Created At",
}

func buildWorkbook(rows []Row) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"1F4E78"}},
		Alignment: &excelize.Alignment{Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	wrapStyle, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})
	if err != nil {
		return nil, fmt.Errorf("wrap style: %w", err)
	}

	if err := f.SetSheetRow(sheetSummary, "A1", &summaryHeaders); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(summaryHeaders))
	if err := f.SetCellStyle(sheetSummary, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []interface{}{
			row.SessionID,
			row.ProjectCode,
			row.OwnerName,
			dash(row.Status),
			dash(row.Category),
			row.SeverityLabel(),
			scoreCell(row.MaxScore),
			row.Summary,
			yesNo(row.HasOverride),
			timeCell(row.OverriddenAt),
			row.CreatedAt.Format(timeLayout),
		}
		if err := f.SetSheetRow(sheetSummary, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if len(rows) > 0 {
		if err := f.SetCellStyle(sheetSummary, "H2", fmt.Sprintf("H%d", len(rows)+1), wrapStyle); err != nil {
			return nil, fmt.Errorf("style summary column: %w", err)
		}
	}
	for col, width := range map[string]float64{"A": 38, "B": 14, "C": 20, "D": 12, "E": 12, "F": 10, "G": 10, "H": 60, "I": 11, "J": 17, "K": 17} {
		if err := f.SetColWidth(sheetSummary, col, col, width); err != nil {
			return nil, fmt.Errorf("column width: %w", err)
		}
	}
	if err := f.SetPanes(sheetSummary, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}
	filterRange := fmt.Sprintf("A1:%s%d", lastCol, len(rows)+1)
	if err := f.AutoFilter(sheetSummary, filterRange, nil); err != nil {
		return nil, fmt.Errorf("autofilter: %w", err)
	}

	if err := writeStatusSheet(f, countByStatus(rows), headerStyle); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeStatusSheet(f *excelize.File, counts []StatusCount, headerStyle int) error {
	if _, err := f.NewSheet(sheetByStatus); err != nil {
		return fmt.Errorf("create status sheet: %w", err)
	}
	header := []interface{}{"Status", "Sessions"}
	if err := f.SetSheetRow(sheetByStatus, "A1", &header); err != nil {
		return fmt.Errorf("write status header: %w", err)
	}
	if err := f.SetCellStyle(sheetByStatus, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("style status header: %w", err)
	}
	total := 0
	for i, count := range counts {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []interface{}{count.Status, count.Count}
		if err := f.SetSheetRow(sheetByStatus, cell, &values); err != nil {
			return fmt.Errorf("write status row: %w", err)
		}
		total += count.Count
	}
	totalCell, _ := excelize.CoordinatesToCellName(1, len(counts)+2)
	totals := []interface{}{"Total", total}
	if err := f.SetSheetRow(sheetByStatus, totalCell, &totals); err != nil {
		return fmt.Errorf("write status total: %w", err)
	}
	return f.SetColWidth(sheetByStatus, "A", "A", 16)
}

func dash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func yesNo(value bool) string {
	if value {
		return "Yes"
	}
	return "No"
}

func scoreCell(score *float64) interface{} {
	if score == nil {
		return "-"
	}
	return *score
}

func timeCell(t *time.Time) interface{} {
	if t == nil {
		return "-"
	}
	return t.Format(timeLayout)
}
