package handlers

import (
	"github.com/gofiber/fiber/v3"
)

// Namespace describes one namespace of table metadata
type Namespace struct {
	Tables []string `json:"tables"`
}

// ListNamespaces handles GET /
func (s *Server) ListNamespaces(c fiber.Ctx) error {
	namespaces := s.tables.Namespaces()

	response := make(map[string]Namespace, len(namespaces))
	for ns, tables := range namespaces {
		response[ns] = Namespace{Tables: tables}
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetTable handles GET /table/{namespace}/{name}
func (s *Server) GetTable(c fiber.Ctx) error {
	table, ok := s.tables.Table(c.Params("namespace"), c.Params("name"))
	if !ok {
		return ErrTableNotFound
	}

	return c.Status(fiber.StatusOK).JSON(table)
}
