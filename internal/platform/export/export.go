// Package export renders tabular reports as CSV or XLSX.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"
)

// Formats accepted by Negotiate.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Table is one sheet of an export.
type Table struct {
	Sheet   string
	Headers []string
	Rows    [][]any
}

// Cell formats v for a text export.
func Cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.2f", x)
	case bool:
		if x {
			return "yes"
		}
		return "no"
	}
	return fmt.Sprint(v)
}

// WriteCSV writes the headers and rows of t to w.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return fmt.Errorf("export csv: write header: %w", err)
	}
	for _, row := range t.Rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = Cell(v)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("export csv: write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// XLSX builds a workbook with one sheet per table.
func XLSX(tables ...Table) ([]byte, error) {
	if len(tables) == 0 {
		return nil, errors.New("export xlsx: no tables")
	}
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("export xlsx: header style: %w", err)
	}

	for i, t := range tables {
		if t.Sheet == "" {
			return nil, fmt.Errorf("export xlsx: table %d has no sheet name", i)
		}
		if i == 0 {
			if err := f.SetSheetName("Sheet1", t.Sheet); err != nil {
				return nil, fmt.Errorf("export xlsx: rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(t.Sheet); err != nil {
			return nil, fmt.Errorf("export xlsx: create sheet %s: %w", t.Sheet, err)
		}
		if err := writeSheet(f, t, headerStyle); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("export xlsx: write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, t Table, headerStyle int) error {
	for col, h := range t.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("export xlsx: %w", err)
		}
		if err := f.SetCellValue(t.Sheet, cell, h); err != nil {
			return fmt.Errorf("export xlsx: header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(t.Sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("export xlsx: header style: %w", err)
		}
		name, _ := excelize.ColumnNumberToName(col + 1)
		width := float64(len(h) + 4)
		if width < 12 {
			width = 12
		}
		if err := f.SetColWidth(t.Sheet, name, name, width); err != nil {
			return fmt.Errorf("export xlsx: column width: %w", err)
		}
	}
	for r, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return fmt.Errorf("export xlsx: %w", err)
		}
		if err := f.SetSheetRow(t.Sheet, cell, &row); err != nil {
			return fmt.Errorf("export xlsx: row %d: %w", r+2, err)
		}
	}
	return nil
}

// Negotiate returns the requested format, defaulting to CSV.
func Negotiate(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", format)
}

// Send writes tables as an attachment named base.<format>. CSV only carries the
// first table.
func Send(c echo.Context, format, base string, tables ...Table) error {
	if len(tables) == 0 {
		return echo.NewHTTPError(500, "nothing to export")
	}
	switch format {
	case FormatXLSX:
		data, err := XLSX(tables...)
		if err != nil {
			return err
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", base+".xlsx"))
		return c.Blob(200, ContentTypeXLSX, data)
	default:
		var buf bytes.Buffer
		if err := WriteCSV(&buf, tables[0]); err != nil {
			return err
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", base+".csv"))
		return c.Blob(200, ContentTypeCSV, buf.Bytes())
	}
}
