package handlers

import (
	"bufio"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/ethpandaops/resthub/pkg/converter"
	"github.com/ethpandaops/resthub/pkg/query"
	"github.com/ethpandaops/resthub/pkg/tabular"
	"github.com/gofiber/fiber/v3"
)

// paramPrintColumns is the query-string flag selecting the column section.
// It is never bound as a statement parameter.
const paramPrintColumns = "print_cols"

// queryParams copies the query string, minus reserved keys. Values outlive
// the request so they must not alias fasthttp buffers.
func queryParams(c fiber.Ctx, reserved ...string) map[string]string {
	out := make(map[string]string)

	for k, v := range c.Queries() {
		if slices.Contains(reserved, k) {
			continue
		}
		out[strings.Clone(k)] = strings.Clone(v)
	}

	return out
}

// fetchRequest reads the page window and parameters of a data request
func fetchRequest(c fiber.Ctx) (query.FetchRequest, error) {
	req := query.FetchRequest{Params: queryParams(c, paramPrintColumns)}

	ppage, page := c.Params("ppage"), c.Params("page")
	if ppage == "" && page == "" {
		return req, nil
	}

	size, err := strconv.Atoi(ppage)
	if err != nil {
		return req, ErrInvalidPage
	}

	number, err := strconv.Atoi(page)
	if err != nil {
		return req, ErrInvalidPage
	}

	req.PageSize = size
	req.Page = number

	return req, nil
}

// GetData handles GET /query/{id}/data and /query/{id}/page/{ppage}/{page}/data.
// The Accept header selects the converter.
func (s *Server) GetData(c fiber.Ctx) error {
	req, err := fetchRequest(c)
	if err != nil {
		return err
	}

	req.MediaType = c.Accepts(converter.MediaTypes()...)
	if req.MediaType == "" {
		return ErrNotAcceptable
	}

	id := c.Params("id")

	data, err := s.registry.Fetch(c.Context(), id, req)
	if err != nil {
		return httpError(err)
	}

	opts := converter.Options{}
	opts.PrintColumns, _ = strconv.ParseBool(c.Query(paramPrintColumns))

	if ref, err := url.Parse(c.BaseURL() + c.OriginalURL()); err == nil {
		opts.Ref = ref
	}

	c.Set(fiber.HeaderContentType, contentType(data.Converter.MediaType()))
	c.Set(HeaderTruncated, strconv.FormatBool(data.Result.Truncated))
	c.Status(fiber.StatusOK)

	log := s.log.WithField("id", strings.Clone(id))

	return c.SendStreamWriter(func(w *bufio.Writer) {
		if err := data.Render(w, opts); err != nil {
			log.WithError(err).Error("Failed to render query data")
			return
		}

		if err := w.Flush(); err != nil {
			log.WithError(err).Debug("Client went away while streaming query data")
		}
	})
}

// DataOptions handles OPTIONS on the data resources. It describes the
// resource without executing the query.
func (s *Server) DataOptions(c fiber.Ctx) error {
	q, err := s.registry.Get(c.Params("id"))
	if err != nil {
		return httpError(err)
	}

	c.Set(fiber.HeaderAllow, "GET, OPTIONS")
	c.Set(HeaderMediaTypes, strings.Join(converter.MediaTypes(), ", "))
	c.Set(HeaderParameters, strings.Join(q.Parameters, ", "))

	return c.SendStatus(fiber.StatusNoContent)
}

// GetLob handles GET .../data/lob/{cname}/{row}, serving one BLOB or CLOB
// cell of the addressed page window
func (s *Server) GetLob(c fiber.Ctx) error {
	req, err := fetchRequest(c)
	if err != nil {
		return err
	}

	row, err := strconv.Atoi(c.Params("row"))
	if err != nil || row < 1 {
		return ErrInvalidRow
	}

	lob, err := s.registry.Lob(c.Context(), c.Params("id"), req, c.Params("cname"), row)
	if err != nil {
		return httpError(err)
	}

	if lob.Data == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}

	if lob.Type == tabular.TypeClob {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	} else {
		c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	}

	return c.Status(fiber.StatusOK).Send(lob.Data)
}

// contentType adds a charset to textual media types
func contentType(mediaType string) string {
	if strings.HasPrefix(mediaType, "text/") || mediaType == converter.MediaTypeJSON || mediaType == converter.MediaTypeAppXML {
		return mediaType + "; charset=utf-8"
	}

	return mediaType
}
