package converter

import (
	"encoding/xml"
	"io"
	"net/url"

	"github.com/ethpandaops/resthub/pkg/tabular"
)

// xmlConverter renders <data><cols>..</cols><row><CNAME>value</CNAME></row></data>
type xmlConverter struct {
	mediaType string
}

func (c xmlConverter) MediaType() string { return c.mediaType }

func (xmlConverter) Convert(w io.Writer, res *tabular.Result, opts Options) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}

	enc := xml.NewEncoder(w)
	v := &xmlVisitor{enc: enc, ref: opts.Ref}

	data := xml.StartElement{Name: xml.Name{Local: "data"}}
	if err := enc.EncodeToken(data); err != nil {
		return err
	}

	if err := tabular.Walk(res, v, opts.PrintColumns); err != nil {
		return err
	}

	if err := enc.EncodeToken(data.End()); err != nil {
		return err
	}

	return enc.Flush()
}

type xmlVisitor struct {
	enc      *xml.Encoder
	ref      *url.URL
	rowIndex int
}

type xmlColumn struct {
	XMLName xml.Name `xml:"col"`
	Name    string   `xml:"name"`
	Type    string   `xml:"type"`
	CName   string   `xml:"cname"`
}

func (v *xmlVisitor) VisitColumns(columns []tabular.Column) error {
	cols := xml.StartElement{Name: xml.Name{Local: "cols"}}
	if err := v.enc.EncodeToken(cols); err != nil {
		return err
	}

	for _, c := range columns {
		if err := v.enc.Encode(xmlColumn{Name: c.Name, Type: string(c.Type), CName: c.CName}); err != nil {
			return err
		}
	}

	return v.enc.EncodeToken(cols.End())
}

func (v *xmlVisitor) StartRow(index int) error {
	v.rowIndex = index
	return v.enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: "row"}})
}

func (v *xmlVisitor) VisitValue(column tabular.Column, value any) error {
	s, ok := FormatValue(column, value, v.ref, v.rowIndex)
	if !ok {
		return nil
	}

	return v.enc.EncodeElement(s, xml.StartElement{Name: xml.Name{Local: column.CName}})
}

func (v *xmlVisitor) EndRow() error {
	return v.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: "row"}})
}
