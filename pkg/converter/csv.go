package converter

import (
	"encoding/csv"
	"io"
	"net/url"

	"github.com/ethpandaops/resthub/pkg/tabular"
)

// csvConverter renders one record per row. A null value is dropped from its
// record like in the other encodings; read rows against the column section
// when nulls are possible. The column section is three records: names, type
// tags and wire names.
type csvConverter struct{}

func (csvConverter) MediaType() string { return MediaTypeCSV }

func (csvConverter) Convert(w io.Writer, res *tabular.Result, opts Options) error {
	cw := csv.NewWriter(w)
	v := &csvVisitor{w: cw, ref: opts.Ref}

	if err := tabular.Walk(res, v, opts.PrintColumns); err != nil {
		return err
	}

	cw.Flush()

	return cw.Error()
}

type csvVisitor struct {
	w        *csv.Writer
	ref      *url.URL
	rowIndex int
	record   []string
}

func (v *csvVisitor) VisitColumns(columns []tabular.Column) error {
	names := make([]string, 0, len(columns))
	types := make([]string, 0, len(columns))
	cnames := make([]string, 0, len(columns))

	for _, c := range columns {
		names = append(names, c.Name)
		types = append(types, string(c.Type))
		cnames = append(cnames, c.CName)
	}

	return v.w.WriteAll([][]string{names, types, cnames})
}

func (v *csvVisitor) StartRow(index int) error {
	v.rowIndex = index
	v.record = v.record[:0]

	return nil
}

func (v *csvVisitor) VisitValue(column tabular.Column, value any) error {
	s, ok := FormatValue(column, value, v.ref, v.rowIndex)
	if !ok {
		return nil
	}
	v.record = append(v.record, s)

	return nil
}

func (v *csvVisitor) EndRow() error {
	return v.w.Write(v.record)
}
