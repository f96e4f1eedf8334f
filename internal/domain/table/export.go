package table

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

var ErrNothingToExport = errors.New("nothing to export")

const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"

	sheetName     = "Datos"
	headerFill    = "1F4E78"
	zebraFill     = "F2F2F2"
	maxColWidth   = 60.0
	minColWidth   = 8.0
	pdfLineHeight = 7.0
)

// ExportFilename renders <title>_<YYYY-MM-DD>_<HH-MM-SS>.<ext>.
func ExportFilename(title, ext string, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", sanitizeTitle(title), now.Format("2006-01-02_15-04-05"), ext)
}

func sanitizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "export"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, title)
}

// ExportXLSX writes the filtered rows as a styled workbook. Nothing is written
// to w unless the whole workbook was generated.
func (t *Table) ExportXLSX(w io.Writer) error {
	if len(t.filtered) == 0 {
		return ErrNothingToExport
	}
	buf, err := buildXLSX(t.columns, t.filtered)
	if err != nil {
		return fmt.Errorf("build xlsx: %w", err)
	}
	_, err = buf.WriteTo(w)
	return err
}

func buildXLSX(columns []Column, rows []Row) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return nil, err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerFill}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, err
	}
	zebraStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{zebraFill}},
	})
	if err != nil {
		return nil, err
	}

	widths := make([]float64, len(columns))
	for c, col := range columns {
		cell, err := excelize.CoordinatesToCellName(c+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, col.HeaderName); err != nil {
			return nil, err
		}
		widths[c] = float64(utf8.RuneCountInString(col.HeaderName))
	}
	if len(columns) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(columns), 1)
		if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
			return nil, err
		}
	}

	for r, row := range rows {
		excelRow := r + 2
		for c, col := range columns {
			cell, err := excelize.CoordinatesToCellName(c+1, excelRow)
			if err != nil {
				return nil, err
			}
			value := cellValue(row[col.Field])
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, err
			}
			if n := float64(utf8.RuneCountInString(Text(row[col.Field]))); n > widths[c] {
				widths[c] = n
			}
		}
		if r%2 == 1 && len(columns) > 0 {
			first, _ := excelize.CoordinatesToCellName(1, excelRow)
			last, _ := excelize.CoordinatesToCellName(len(columns), excelRow)
			if err := f.SetCellStyle(sheetName, first, last, zebraStyle); err != nil {
				return nil, err
			}
		}
	}

	for c, width := range widths {
		name, err := excelize.ColumnNumberToName(c + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheetName, name, name, clampWidth(width+2)); err != nil {
			return nil, err
		}
	}
	return f.WriteToBuffer()
}

func cellValue(v any) any {
	switch v.(type) {
	case nil:
		return ""
	case string, float64, int, int64, bool:
		return v
	default:
		return Text(v)
	}
}

func clampWidth(w float64) float64 {
	if w < minColWidth {
		return minColWidth
	}
	if w > maxColWidth {
		return maxColWidth
	}
	return w
}

// ExportPDF writes the filtered rows as a landscape table.
func (t *Table) ExportPDF(w io.Writer, title string) error {
	if len(t.filtered) == 0 {
		return ErrNothingToExport
	}
	var buf bytes.Buffer
	if err := buildPDF(&buf, title, t.columns, t.filtered); err != nil {
		return fmt.Errorf("build pdf: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

func buildPDF(w io.Writer, title string, columns []Column, rows []Row) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 10, tr(title))
	pdf.Ln(12)

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (pageWidth - left - right) / float64(max(len(columns), 1))

	header := func() {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(31, 78, 120)
		pdf.SetTextColor(255, 255, 255)
		for _, col := range columns {
			pdf.CellFormat(colWidth, pdfLineHeight, tr(col.HeaderName), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetTextColor(0, 0, 0)
		pdf.SetFont("Helvetica", "", 8)
	}
	header()

	_, pageHeight := pdf.GetPageSize()
	for r, row := range rows {
		if pdf.GetY()+pdfLineHeight > pageHeight-12 {
			pdf.AddPage()
			header()
		}
		fill := r%2 == 1
		pdf.SetFillColor(242, 242, 242)
		for _, col := range columns {
			text := truncate(pdf, tr(Text(row[col.Field])), colWidth-2)
			pdf.CellFormat(colWidth, pdfLineHeight, text, "1", 0, "L", fill, 0, "")
		}
		pdf.Ln(-1)
	}
	return pdf.Output(w)
}

func truncate(pdf *gofpdf.Fpdf, text string, width float64) string {
	if pdf.GetStringWidth(text) <= width {
		return text
	}
	for len(text) > 0 && pdf.GetStringWidth(text+"...") > width {
		text = text[:len(text)-1]
	}
	return text + "..."
}
