package converter

import (
	"io"
	"net/url"

	"github.com/ethpandaops/resthub/pkg/tabular"
	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Sheet1"

// xlsxConverter renders a single-sheet workbook through excelize's stream
// writer. Rows are streamed into the sheet; the archive is written once the
// sheet is complete.
type xlsxConverter struct{}

func (xlsxConverter) MediaType() string { return MediaTypeXLSX }

func (xlsxConverter) Convert(w io.Writer, res *tabular.Result, opts Options) (err error) {
	f := excelize.NewFile()
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		return err
	}

	v := &xlsxVisitor{sw: sw, ref: opts.Ref, line: 1}
	if err := tabular.Walk(res, v, opts.PrintColumns); err != nil {
		return err
	}

	if err := sw.Flush(); err != nil {
		return err
	}

	return f.Write(w)
}

type xlsxVisitor struct {
	sw       *excelize.StreamWriter
	ref      *url.URL
	line     int
	rowIndex int
	cells    []any
}

func (v *xlsxVisitor) writeLine(cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, v.line)
	if err != nil {
		return err
	}

	v.line++

	return v.sw.SetRow(cell, cells)
}

func (v *xlsxVisitor) VisitColumns(columns []tabular.Column) error {
	cnames := make([]any, 0, len(columns))
	for _, c := range columns {
		cnames = append(cnames, c.CName)
	}

	return v.writeLine(cnames)
}

func (v *xlsxVisitor) StartRow(index int) error {
	v.rowIndex = index
	v.cells = make([]any, 0, cap(v.cells))

	return nil
}

func (v *xlsxVisitor) VisitValue(column tabular.Column, value any) error {
	s, ok := FormatValue(column, value, v.ref, v.rowIndex)
	if !ok {
		v.cells = append(v.cells, nil)
		return nil
	}

	v.cells = append(v.cells, s)

	return nil
}

func (v *xlsxVisitor) EndRow() error {
	return v.writeLine(v.cells)
}
