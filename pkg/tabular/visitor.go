package tabular

// Visitor receives one traversal of a Result. Walk calls StartRow, then
// VisitValue once per column in column order (value is nil for null), then
// EndRow, for every row.
type Visitor interface {
	StartRow(index int) error
	VisitValue(column Column, value any) error
	EndRow() error
}

// ColumnsVisitor is implemented by visitors that want the column header pass
// before any row data.
type ColumnsVisitor interface {
	VisitColumns(columns []Column) error
}

// Walk traverses the result with the visitor. When printColumns is set and
// the visitor implements ColumnsVisitor, the header pass runs first.
// The first error returned by the visitor stops the traversal.
func Walk(r *Result, v Visitor, printColumns bool) error {
	if printColumns {
		if cv, ok := v.(ColumnsVisitor); ok {
			if err := cv.VisitColumns(r.Columns); err != nil {
				return err
			}
		}
	}

	for i, row := range r.Rows() {
		if err := v.StartRow(i); err != nil {
			return err
		}

		for j, col := range r.Columns {
			var value any
			if j < len(row) {
				value = row[j]
			}

			if err := v.VisitValue(col, value); err != nil {
				return err
			}
		}

		if err := v.EndRow(); err != nil {
			return err
		}
	}

	return nil
}
