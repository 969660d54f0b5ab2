// Package httpapi is the HTTP boundary: dataset management, sync
// triggers, the change-notification stream and the webhook/proxy
// dispatchers that route provider traffic to integration bundles.
package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// EchoServer is the HTTP server wrapper.
type EchoServer struct {
	h *Handlers
	e *echo.Echo
}

// NewEchoServer creates a new HTTP server around the shared handlers.
func NewEchoServer(h *Handlers) *EchoServer {
	es := &EchoServer{h: h, e: echo.New()}
	es.e.HideBanner = true
	es.e.Use(middleware.Recover())
	es.registerRoutes()
	return es
}

func (es *EchoServer) registerRoutes() {
	es.e.GET("/healthz", es.h.HandleHealthz)

	api := es.e.Group("/api")
	api.GET("/integrations", es.h.HandleListIntegrations)

	api.POST("/datasets", es.h.HandleCreateDataset)
	api.GET("/datasets", es.h.HandleListDatasets)
	api.GET("/datasets/:id", es.h.HandleGetDataset)
	api.DELETE("/datasets/:id", es.h.HandleDeleteDataset)

	api.GET("/datasets/:id/tables", es.h.HandleListTables)
	api.GET("/datasets/:id/tables/:key/rows", es.h.HandleListRows)
	api.GET("/datasets/:id/objects", es.h.HandleListObjects)

	api.POST("/sync", es.h.HandleSyncAll)
	api.POST("/datasets/:id/sync", es.h.HandleSyncDataset)

	api.POST("/datasets/:id/webhook-setup", es.h.HandleWebhookSetup)
	api.POST("/datasets/:id/actions/:key", es.h.HandleAction)
	api.GET("/datasets/:id/queries/:key", es.h.HandleQuery)

	api.POST("/webhooks/:dataset", es.h.HandleWebhook)
	api.Any("/proxy/:dataset/*", es.h.HandleProxy)

	api.GET("/events", es.h.HandleEvents)
}

// Start starts the HTTP server.
func (es *EchoServer) Start(addr string) error {
	return es.e.Start(addr)
}

// Handler exposes the routing tree, mainly for tests.
func (es *EchoServer) Handler() http.Handler {
	return es.e
}

// Shutdown gracefully shuts down the HTTP server.
func (es *EchoServer) Shutdown(ctx context.Context) error {
	return es.e.Shutdown(ctx)
}
