package handlers

import (
	"strconv"
	"time"

	"github.com/ethpandaops/resthub/pkg/query"
	"github.com/ethpandaops/resthub/pkg/tabular"
	"github.com/gofiber/fiber/v3"
)

// QueryInfo is the JSON view of a submitted query
type QueryInfo struct {
	ID    string `json:"id"`
	Query string `json:"query"`
	*QueryDetail
}

// QueryDetail is added to QueryInfo in verbose mode
type QueryDetail struct {
	Parameters []string          `json:"parameters"`
	Params     map[string]string `json:"params"`
	Tables     []string          `json:"tables"`
	Connection string            `json:"connection"`
	CacheTime  int               `json:"cacheTime"`
	HitCount   int               `json:"hitCount"`
	Timeout    float64           `json:"timeout"` // seconds
	RowsLimit  int               `json:"rowsLimit"`
	Columns    []tabular.Column  `json:"columns,omitempty"`
	Created    time.Time         `json:"created"`
	LastAccess time.Time         `json:"lastAccess"`
}

func queryInfo(q *query.Query, verbose bool) QueryInfo {
	info := QueryInfo{ID: q.ID, Query: q.SQL}
	if !verbose {
		return info
	}

	info.QueryDetail = &QueryDetail{
		Parameters: q.Parameters,
		Params:     q.Params,
		Tables:     q.Tables,
		Connection: q.Connection,
		CacheTime:  q.Policy.CacheTime,
		HitCount:   q.Policy.HitCount,
		Timeout:    q.Policy.Timeout.Seconds(),
		RowsLimit:  q.Policy.RowsLimit,
		Columns:    q.Columns(),
		Created:    q.Created,
		LastAccess: q.LastAccess(),
	}

	return info
}

// SubmitQuery handles POST /query. The body is the SQL text and the query
// string holds the parameter values; the response body is the new id.
func (s *Server) SubmitQuery(c fiber.Ctx) error {
	id, err := s.registry.Submit(c.Context(), string(c.Body()), queryParams(c))
	if err != nil {
		return httpError(err)
	}

	s.log.WithField("id", id).Debug("Query submitted")

	c.Location("/query/" + id)
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)

	return c.Status(fiber.StatusCreated).SendString(id)
}

// ListQueries handles GET /queries
func (s *Server) ListQueries(c fiber.Ctx) error {
	queries := s.registry.List()

	response := make(map[string]QueryInfo, len(queries))
	for _, q := range queries {
		response[q.ID] = queryInfo(q, false)
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetQuery handles GET /query/{id}; ?v=true adds the policy, parameters and
// columns
func (s *Server) GetQuery(c fiber.Ctx) error {
	q, err := s.registry.Get(c.Params("id"))
	if err != nil {
		return httpError(err)
	}

	verbose, _ := strconv.ParseBool(c.Query("v"))

	return c.Status(fiber.StatusOK).JSON(queryInfo(q, verbose))
}

// DeleteQuery handles DELETE /query/{id}. Deleting an unknown id succeeds.
func (s *Server) DeleteQuery(c fiber.Ctx) error {
	id := c.Params("id")

	if s.registry.Delete(id) {
		s.log.WithField("id", id).Debug("Query deleted")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// CountQuery handles GET /query/{id}/count
func (s *Server) CountQuery(c fiber.Ctx) error {
	n, truncated, err := s.registry.Count(c.Context(), c.Params("id"), queryParams(c))
	if err != nil {
		return httpError(err)
	}

	c.Set(HeaderTruncated, strconv.FormatBool(truncated))
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)

	return c.Status(fiber.StatusOK).SendString(strconv.Itoa(n))
}
