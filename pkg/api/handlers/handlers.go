// Package handlers implements the resthub HTTP resources: namespaces, tables,
// submitted queries and their paginated data in every supported format.
package handlers

import (
	"context"

	"github.com/ethpandaops/resthub/pkg/metadata"
	"github.com/ethpandaops/resthub/pkg/query"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// Response headers carrying result properties
const (
	HeaderTruncated  = "X-Resthub-Truncated"
	HeaderMediaTypes = "X-Resthub-Media-Types"
	HeaderParameters = "X-Resthub-Parameters"
)

// Registry is the query registry served by the handlers
type Registry interface {
	Submit(ctx context.Context, sql string, params map[string]string) (string, error)
	Get(id string) (*query.Query, error)
	List() []*query.Query
	Fetch(ctx context.Context, id string, req query.FetchRequest) (*query.Data, error)
	Count(ctx context.Context, id string, params map[string]string) (int, bool, error)
	Lob(ctx context.Context, id string, req query.FetchRequest, cname string, row int) (*query.Lob, error)
	Delete(id string) bool
}

// Tables serves table metadata lookups
type Tables interface {
	Table(namespace, name string) (*metadata.Table, bool)
	Namespaces() map[string][]string
}

var (
	_ Registry = (*query.Registry)(nil)
	_ Tables   = (metadata.Service)(nil)
)

// Server holds the request handlers
type Server struct {
	registry Registry
	tables   Tables
	log      logrus.FieldLogger
}

// NewServer creates a new API server instance
func NewServer(registry Registry, tables Tables, log logrus.FieldLogger) *Server {
	return &Server{
		registry: registry,
		tables:   tables,
		log:      log.WithField("component", "api.handlers"),
	}
}

// Register mounts every resource on router
func (s *Server) Register(router fiber.Router) {
	router.Get("/", s.ListNamespaces)
	router.Get("/table/:namespace/:name", s.GetTable)

	router.Get("/queries", s.ListQueries)
	router.Post("/query", s.SubmitQuery)
	router.Get("/query/:id", s.GetQuery)
	router.Delete("/query/:id", s.DeleteQuery)
	router.Get("/query/:id/count", s.CountQuery)

	for _, prefix := range []string{"/query/:id", "/query/:id/page/:ppage/:page"} {
		router.Get(prefix+"/data", s.GetData)
		router.Options(prefix+"/data", s.DataOptions)
		router.Get(prefix+"/data/lob/:cname/:row", s.GetLob)
	}
}
