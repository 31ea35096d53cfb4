package client

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethpandaops/resthub/pkg/tabular"
)

// Result is a decoded JSON or XML data response. Null values are absent
// from their row.
type Result struct {
	Columns []tabular.Column    `json:"cols,omitempty"`
	Rows    []map[string]string `json:"rows"`
}

func decodeJSON(data *Data) (*Result, error) {
	res := &Result{}
	if err := json.Unmarshal(data.Body, res); err != nil {
		return nil, fmt.Errorf("failed to decode json data: %w", err)
	}

	return res, nil
}

// DecodeCSV reads a CSV data response as records
func DecodeCSV(data *Data) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data.Body))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to decode csv data: %w", err)
	}

	return records, nil
}

type xmlColumn struct {
	Name  string `xml:"name"`
	Type  string `xml:"type"`
	CName string `xml:"cname"`
}

// decodeXML walks <data><cols>...</cols><row><CNAME>v</CNAME></row></data>.
// Row element names are only known at runtime, hence the token loop.
func decodeXML(data *Data) (*Result, error) {
	dec := xml.NewDecoder(bytes.NewReader(data.Body))
	res := &Result{}

	var row map[string]string

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode xml data: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			if end, ok := tok.(xml.EndElement); ok && end.Name.Local == "row" && row != nil {
				res.Rows = append(res.Rows, row)
				row = nil
			}
			continue
		}

		switch {
		case start.Name.Local == "col":
			var col xmlColumn
			if err := dec.DecodeElement(&col, &start); err != nil {
				return nil, fmt.Errorf("failed to decode xml column: %w", err)
			}
			res.Columns = append(res.Columns, tabular.Column{
				Name:  col.Name,
				CName: col.CName,
				Type:  tabular.ColumnType(strings.ToUpper(col.Type)),
			})
		case start.Name.Local == "row":
			row = map[string]string{}
		case row != nil:
			var value string
			if err := dec.DecodeElement(&value, &start); err != nil {
				return nil, fmt.Errorf("failed to decode xml value: %w", err)
			}
			row[start.Name.Local] = value
		}
	}

	return res, nil
}
