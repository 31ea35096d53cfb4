// Package converter renders tabular results into wire encodings (XML, JSON,
// CSV and XLSX). Every converter drives the same tabular.Walk traversal and
// writes straight to the destination writer.
package converter

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"

	"github.com/ethpandaops/resthub/pkg/tabular"
)

// Media types served by the converters
const (
	MediaTypeJSON    = "application/json"
	MediaTypeXML     = "text/xml"
	MediaTypeAppXML  = "application/xml"
	MediaTypeCSV     = "text/csv"
	MediaTypeXLSX    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	DefaultMediaType = MediaTypeJSON
)

// ErrUnsupportedMediaType is returned when no converter serves a media type
var ErrUnsupportedMediaType = errors.New("unsupported media type")

// Options controls a single conversion
type Options struct {
	// PrintColumns prefixes the output with the column section
	PrintColumns bool
	// Ref is the address of the originating data request; LOB references
	// are built from it
	Ref *url.URL
}

// Converter turns a result into one wire encoding
type Converter interface {
	// MediaType is the content type of the produced output
	MediaType() string
	// Convert streams the encoding of res into w
	Convert(w io.Writer, res *tabular.Result, opts Options) error
}

//nolint:gochecknoglobals // Fixed set of converters keyed by media type
var converters = map[string]Converter{
	MediaTypeJSON:   jsonConverter{},
	MediaTypeXML:    xmlConverter{mediaType: MediaTypeXML},
	MediaTypeAppXML: xmlConverter{mediaType: MediaTypeAppXML},
	MediaTypeCSV:    csvConverter{},
	MediaTypeXLSX:   xlsxConverter{},
}

// Lookup returns the converter for a media type. Parameters such as charset
// are ignored; an empty or wildcard type selects the default converter.
func Lookup(mediaType string) (Converter, error) {
	mt := strings.TrimSpace(mediaType)
	if mt == "" || mt == "*/*" {
		return converters[DefaultMediaType], nil
	}

	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}

	c, ok := converters[strings.ToLower(mt)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}

	return c, nil
}

// MediaTypes lists the supported media types, default first
func MediaTypes() []string {
	return []string{MediaTypeJSON, MediaTypeXML, MediaTypeAppXML, MediaTypeCSV, MediaTypeXLSX}
}
