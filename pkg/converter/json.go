package converter

import (
	"bufio"
	"encoding/json"
	"io"
	"net/url"

	"github.com/ethpandaops/resthub/pkg/tabular"
)

// jsonConverter renders {"cols":[...],"rows":[{"CNAME":"value"}]}
type jsonConverter struct{}

func (jsonConverter) MediaType() string { return MediaTypeJSON }

func (jsonConverter) Convert(w io.Writer, res *tabular.Result, opts Options) error {
	bw := bufio.NewWriter(w)
	v := &jsonVisitor{w: bw, ref: opts.Ref}

	if _, err := bw.WriteString("{"); err != nil {
		return err
	}

	if err := tabular.Walk(res, v, opts.PrintColumns); err != nil {
		return err
	}

	if !v.rowsOpened {
		if _, err := bw.WriteString(v.rowsPrefix()); err != nil {
			return err
		}
	}

	if _, err := bw.WriteString("]}"); err != nil {
		return err
	}

	return bw.Flush()
}

type jsonVisitor struct {
	w          *bufio.Writer
	ref        *url.URL
	wroteCols  bool
	rowsOpened bool
	rowIndex   int
	fields     int
}

type jsonColumn struct {
	Name  string             `json:"name"`
	Type  tabular.ColumnType `json:"type"`
	CName string             `json:"cname"`
}

func (v *jsonVisitor) rowsPrefix() string {
	if v.wroteCols {
		return `,"rows":[`
	}
	return `"rows":[`
}

func (v *jsonVisitor) VisitColumns(columns []tabular.Column) error {
	cols := make([]jsonColumn, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, jsonColumn{Name: c.Name, Type: c.Type, CName: c.CName})
	}

	data, err := json.Marshal(cols)
	if err != nil {
		return err
	}

	if _, err := v.w.WriteString(`"cols":`); err != nil {
		return err
	}
	if _, err := v.w.Write(data); err != nil {
		return err
	}

	v.wroteCols = true

	return nil
}

func (v *jsonVisitor) StartRow(index int) error {
	prefix := ","
	if !v.rowsOpened {
		prefix = v.rowsPrefix()
		v.rowsOpened = true
	}

	v.rowIndex = index
	v.fields = 0

	_, err := v.w.WriteString(prefix + "{")

	return err
}

func (v *jsonVisitor) VisitValue(column tabular.Column, value any) error {
	s, ok := FormatValue(column, value, v.ref, v.rowIndex)
	if !ok {
		return nil
	}

	key, err := json.Marshal(column.CName)
	if err != nil {
		return err
	}
	val, err := json.Marshal(s)
	if err != nil {
		return err
	}

	if v.fields > 0 {
		if err := v.w.WriteByte(','); err != nil {
			return err
		}
	}
	v.fields++

	if _, err := v.w.Write(key); err != nil {
		return err
	}
	if err := v.w.WriteByte(':'); err != nil {
		return err
	}
	_, err = v.w.Write(val)

	return err
}

func (v *jsonVisitor) EndRow() error {
	return v.w.WriteByte('}')
}
