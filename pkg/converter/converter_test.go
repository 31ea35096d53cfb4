package converter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/resthub/pkg/tabular"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func render(t *testing.T, mediaType string, res *tabular.Result, opts Options) string {
	t.Helper()

	c, err := Lookup(mediaType)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.Convert(&buf, res, opts))

	return buf.String()
}

func singleValue() *tabular.Result {
	return tabular.NewResult(
		[]tabular.Column{{Name: "X", CName: "X", Type: tabular.TypeNumber}},
		[]tabular.Row{{decimal.NewFromInt(1)}},
		false,
	)
}

func TestLookup(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: MediaTypeJSON},
		{in: "*/*", want: MediaTypeJSON},
		{in: "application/json; charset=utf-8", want: MediaTypeJSON},
		{in: "text/xml", want: MediaTypeXML},
		{in: "application/xml", want: MediaTypeAppXML},
		{in: "TEXT/CSV", want: MediaTypeCSV},
		{in: MediaTypeXLSX, want: MediaTypeXLSX},
		{in: "image/png", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := Lookup(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedMediaType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.MediaType())
		})
	}
}

func TestRoundTripSingleValue(t *testing.T) {
	res := singleValue()

	t.Run("json", func(t *testing.T) {
		assert.JSONEq(t, `{"rows":[{"X":"1"}]}`, render(t, MediaTypeJSON, res, Options{}))
	})

	t.Run("csv", func(t *testing.T) {
		records, err := csv.NewReader(strings.NewReader(render(t, MediaTypeCSV, res, Options{}))).ReadAll()
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"1"}}, records)
	})

	t.Run("xml", func(t *testing.T) {
		out := render(t, MediaTypeXML, res, Options{})
		assert.True(t, strings.HasPrefix(out, "<?xml"))
		assert.Contains(t, out, "<data><row><X>1</X></row></data>")
	})
}

func TestPrintColumns(t *testing.T) {
	res := tabular.NewResult(
		[]tabular.Column{
			{Name: "id", CName: "ID", Type: tabular.TypeNumber},
			{Name: "label", CName: "LABEL", Type: tabular.TypeString},
		},
		[]tabular.Row{{int64(7), "seven"}},
		false,
	)
	opts := Options{PrintColumns: true}

	t.Run("json", func(t *testing.T) {
		assert.JSONEq(t, `{
			"cols":[{"name":"id","type":"NUMBER","cname":"ID"},{"name":"label","type":"STRING","cname":"LABEL"}],
			"rows":[{"ID":"7","LABEL":"seven"}]
		}`, render(t, MediaTypeJSON, res, opts))
	})

	t.Run("xml columns precede rows", func(t *testing.T) {
		out := render(t, MediaTypeXML, res, opts)
		assert.Contains(t, out, "<cols><col><name>id</name><type>NUMBER</type><cname>ID</cname></col>")
		assert.Less(t, strings.Index(out, "<cols>"), strings.Index(out, "<row>"))
	})

	t.Run("csv", func(t *testing.T) {
		records, err := csv.NewReader(strings.NewReader(render(t, MediaTypeCSV, res, opts))).ReadAll()
		require.NoError(t, err)
		assert.Equal(t, [][]string{
			{"id", "label"},
			{"NUMBER", "STRING"},
			{"ID", "LABEL"},
			{"7", "seven"},
		}, records)
	})

	t.Run("json without rows still lists columns", func(t *testing.T) {
		empty := tabular.NewResult(res.Columns, nil, false)
		var doc map[string][]map[string]any
		require.NoError(t, json.Unmarshal([]byte(render(t, MediaTypeJSON, empty, opts)), &doc))
		assert.Len(t, doc["cols"], 2)
		assert.Empty(t, doc["rows"])
	})
}

func TestNullValuesAreOmitted(t *testing.T) {
	full := []tabular.Column{
		{Name: "a", CName: "A", Type: tabular.TypeString},
		{Name: "b", CName: "B", Type: tabular.TypeNumber},
	}
	withNull := tabular.NewResult(full, []tabular.Row{{"x", nil}}, false)
	withoutColumn := tabular.NewResult(full[:1], []tabular.Row{{"x"}}, false)

	for _, mt := range []string{MediaTypeJSON, MediaTypeXML, MediaTypeCSV} {
		t.Run(mt, func(t *testing.T) {
			assert.Equal(t, render(t, mt, withoutColumn, Options{}), render(t, mt, withNull, Options{}))
		})
	}

	t.Run("csv drops the field", func(t *testing.T) {
		assert.Equal(t, "x\n", render(t, MediaTypeCSV, withNull, Options{}))
	})
}

func TestEscaping(t *testing.T) {
	res := tabular.NewResult(
		[]tabular.Column{{Name: "s", CName: "S", Type: tabular.TypeString}},
		[]tabular.Row{{`a<b> & "c", d`}},
		false,
	)

	t.Run("xml entities", func(t *testing.T) {
		assert.Contains(t, render(t, MediaTypeXML, res, Options{}), "<S>a&lt;b&gt; &amp; &#34;c&#34;, d</S>")
	})

	t.Run("json string", func(t *testing.T) {
		var doc struct {
			Rows []map[string]string `json:"rows"`
		}
		require.NoError(t, json.Unmarshal([]byte(render(t, MediaTypeJSON, res, Options{})), &doc))
		assert.Equal(t, `a<b> & "c", d`, doc.Rows[0]["S"])
	})

	t.Run("csv quoting on demand", func(t *testing.T) {
		assert.Equal(t, "\"a<b> & \"\"c\"\", d\"\n", render(t, MediaTypeCSV, res, Options{}))
	})
}

func TestFormatValue(t *testing.T) {
	ref, err := url.Parse("http://localhost:8080/query/abc/page/10/2/data?dept=7")
	require.NoError(t, err)

	date := time.Date(2024, 3, 9, 7, 5, 4, 0, time.UTC)

	tests := []struct {
		name  string
		col   tabular.Column
		value any
		want  string
	}{
		{name: "decimal keeps plain notation", col: tabular.Column{Type: tabular.TypeNumber}, value: decimal.RequireFromString("1.5e10"), want: "15000000000"},
		{name: "decimal fraction", col: tabular.Column{Type: tabular.TypeNumber}, value: decimal.RequireFromString("0.000001"), want: "0.000001"},
		{name: "float", col: tabular.Column{Type: tabular.TypeNumber}, value: 2.25, want: "2.25"},
		{name: "int64", col: tabular.Column{Type: tabular.TypeNumber}, value: int64(-42), want: "-42"},
		{name: "numeric bytes", col: tabular.Column{Type: tabular.TypeNumber}, value: []byte("12.50"), want: "12.50"},
		{name: "decimal keeps stored scale", col: tabular.Column{Type: tabular.TypeNumber}, value: decimal.RequireFromString("1.50"), want: "1.50"},
		{name: "numeric string scale", col: tabular.Column{Type: tabular.TypeNumber}, value: "100.000", want: "100.000"},
		{name: "date", col: tabular.Column{Type: tabular.TypeDate}, value: date, want: "2024-03-09T07:05:04"},
		{name: "string bytes", col: tabular.Column{Type: tabular.TypeString}, value: []byte("raw"), want: "raw"},
		{name: "blob reference", col: tabular.Column{CName: "PHOTO", Type: tabular.TypeBlob}, value: []byte{1, 2}, want: "http://localhost:8080/query/abc/page/10/2/data/lob/PHOTO/3?dept=7"},
		{name: "clob reference", col: tabular.Column{CName: "DOC", Type: tabular.TypeClob}, value: "text", want: "http://localhost:8080/query/abc/page/10/2/data/lob/DOC/3?dept=7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FormatValue(tt.col, tt.value, ref, 2)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := FormatValue(tabular.Column{Type: tabular.TypeString}, nil, ref, 0)
	assert.False(t, ok)
}

func TestXLSX(t *testing.T) {
	res := tabular.NewResult(
		[]tabular.Column{
			{Name: "id", CName: "ID", Type: tabular.TypeNumber},
			{Name: "name", CName: "NAME", Type: tabular.TypeString},
		},
		[]tabular.Row{{int64(1), "one"}, {int64(2), nil}},
		false,
	)

	out := render(t, MediaTypeXLSX, res, Options{PrintColumns: true})

	f, err := excelize.OpenReader(strings.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"ID", "NAME"}, {"1", "one"}, {"2"}}, rows)
}
