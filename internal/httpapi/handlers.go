package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/confluxhq/conflux/internal/bus"
	"github.com/confluxhq/conflux/internal/engine"
	"github.com/confluxhq/conflux/internal/integrations/registry"
	"github.com/confluxhq/conflux/internal/store"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// StoreAPI is the slice of the store the HTTP layer reads and writes.
type StoreAPI interface {
	CreateDataset(ctx context.Context, name, integrationType string, credentials []byte) (store.Dataset, error)
	GetDataset(ctx context.Context, id uuid.UUID) (store.Dataset, error)
	ListDatasets(ctx context.Context) ([]store.Dataset, error)
	DeleteDataset(ctx context.Context, id uuid.UUID) error
	ListTables(ctx context.Context, datasetID uuid.UUID) ([]store.Table, error)
	GetTableByKey(ctx context.Context, datasetID uuid.UUID, key string) (store.Table, error)
	ListRows(ctx context.Context, tableID uuid.UUID) ([]store.Row, error)
	ListObjects(ctx context.Context, datasetID uuid.UUID) ([]store.DatasetObject, error)
}

// Syncer runs sync passes and hands out upsert surfaces for the webhook
// path.
type Syncer interface {
	SyncAll(ctx context.Context) error
	SyncDataset(ctx context.Context, ds *store.Dataset) error
	Env(origin string) registry.Env
}

// TokenResolver matches the credential resolver's surface.
type TokenResolver interface {
	ResolveToken(ctx context.Context, ds *store.Dataset, oauth *registry.OAuthEndpoint) (string, error)
}

// Handlers carries the shared dependencies of every route.
type Handlers struct {
	Store      StoreAPI
	Registry   *registry.Registry
	Bus        *bus.Bus
	Syncer     Syncer
	Resolver   TokenResolver
	Supervisor *engine.Supervisor

	// ProxyClient performs pass-through requests; nil means a default
	// client with a sane timeout.
	ProxyClient *http.Client
}

func (h *Handlers) HandleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type integrationView struct {
	Type         string   `json:"type"`
	DisplayName  string   `json:"displayName"`
	Capabilities []string `json:"capabilities"`
	Tables       []string `json:"tables,omitempty"`
	Objects      []string `json:"objects,omitempty"`
}

func (h *Handlers) HandleListIntegrations(c echo.Context) error {
	var out []integrationView
	for _, i := range h.Registry.Available() {
		view := integrationView{
			Type:         i.Type,
			DisplayName:  i.DisplayName,
			Capabilities: i.Capabilities(),
		}
		for _, t := range i.Tables {
			view.Tables = append(view.Tables, t.Key)
		}
		for _, o := range i.Objects {
			view.Objects = append(view.Objects, o.Key)
		}
		out = append(out, view)
	}
	if out == nil {
		out = []integrationView{}
	}
	return c.JSON(http.StatusOK, out)
}

// datasetView never exposes the stored credential blob.
type datasetView struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	IntegrationType string    `json:"integrationType,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func viewOf(d store.Dataset) datasetView {
	return datasetView{
		ID:              d.ID,
		Name:            d.Name,
		IntegrationType: d.IntegrationType,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type createDatasetRequest struct {
	Name            string          `json:"name"`
	IntegrationType string          `json:"integrationType"`
	Credentials     json.RawMessage `json:"credentials"`
}

func (h *Handlers) HandleCreateDataset(c echo.Context) error {
	var req createDatasetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.IntegrationType != "" {
		if _, ok := h.Registry.Resolve(req.IntegrationType); !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown integration type")
		}
	}

	ds, err := h.Store.CreateDataset(c.Request().Context(), req.Name, req.IntegrationType, req.Credentials)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, viewOf(ds))
}

func (h *Handlers) HandleListDatasets(c echo.Context) error {
	datasets, err := h.Store.ListDatasets(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]datasetView, 0, len(datasets))
	for _, d := range datasets {
		out = append(out, viewOf(d))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handlers) HandleGetDataset(c echo.Context) error {
	ds, err := h.datasetParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(*ds))
}

func (h *Handlers) HandleDeleteDataset(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "dataset not found")
	}
	if err := h.Store.DeleteDataset(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "dataset not found")
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) HandleListTables(c echo.Context) error {
	ds, err := h.datasetParam(c)
	if err != nil {
		return err
	}
	tables, err := h.Store.ListTables(c.Request().Context(), ds.ID)
	if err != nil {
		return err
	}
	if tables == nil {
		tables = []store.Table{}
	}
	return c.JSON(http.StatusOK, tables)
}

func (h *Handlers) HandleListRows(c echo.Context) error {
	ds, err := h.datasetParam(c)
	if err != nil {
		return err
	}
	table, err := h.Store.GetTableByKey(c.Request().Context(), ds.ID, c.Param("key"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "table not found")
		}
		return err
	}
	rows, err := h.Store.ListRows(c.Request().Context(), table.ID)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []store.Row{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handlers) HandleListObjects(c echo.Context) error {
	ds, err := h.datasetParam(c)
	if err != nil {
		return err
	}
	objects, err := h.Store.ListObjects(c.Request().Context(), ds.ID)
	if err != nil {
		return err
	}
	if objects == nil {
		objects = []store.DatasetObject{}
	}
	return c.JSON(http.StatusOK, objects)
}

// HandleSyncAll queues a full sync pass and reports acceptance; the pass
// itself runs in the background under the supervisor.
func (h *Handlers) HandleSyncAll(c echo.Context) error {
	h.Supervisor.Go("sync-all", func(ctx context.Context) error {
		return h.Syncer.SyncAll(ctx)
	})
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handlers) HandleSyncDataset(c echo.Context) error {
	ds, err := h.datasetParam(c)
	if err != nil {
		return err
	}
	h.Supervisor.Go("sync-dataset-"+ds.ID.String(), func(ctx context.Context) error {
		return h.Syncer.SyncDataset(ctx, ds)
	})
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handlers) HandleWebhookSetup(c echo.Context) error {
	ds, integration, err := h.datasetIntegration(c, "id")
	if err != nil {
		return err
	}
	if integration.SetupWebhook == nil {
		return echo.NewHTTPError(http.StatusNotFound, "integration has no webhook setup")
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return err
	}
	fc, err := h.fetchContext(c.Request().Context(), ds, integration)
	if err != nil {
		return err
	}
	if err := integration.SetupWebhook(c.Request().Context(), h.Syncer.Env("webhook"), fc, payload); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) HandleAction(c echo.Context) error {
	ds, integration, err := h.datasetIntegration(c, "id")
	if err != nil {
		return err
	}
	action, ok := integration.FindAction(c.Param("key"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown action")
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return err
	}
	fc, err := h.fetchContext(c.Request().Context(), ds, integration)
	if err != nil {
		return err
	}
	result, err := action.Run(c.Request().Context(), fc, payload)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"result": result})
}

func (h *Handlers) HandleQuery(c echo.Context) error {
	ds, integration, err := h.datasetIntegration(c, "id")
	if err != nil {
		return err
	}
	query, ok := integration.FindQuery(c.Param("key"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown query")
	}

	params := map[string]string{}
	for key, values := range c.QueryParams() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	fc, err := h.fetchContext(c.Request().Context(), ds, integration)
	if err != nil {
		return err
	}
	result, err := query.Run(c.Request().Context(), fc, params)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"result": result})
}

func (h *Handlers) fetchContext(ctx context.Context, ds *store.Dataset, integration *registry.Integration) (registry.FetchContext, error) {
	token, err := h.Resolver.ResolveToken(ctx, ds, integration.OAuth)
	if err != nil {
		return registry.FetchContext{}, err
	}
	return registry.FetchContext{Dataset: ds, Token: token, Client: h.ProxyClient}, nil
}

func (h *Handlers) datasetParam(c echo.Context) (*store.Dataset, error) {
	return h.datasetByParam(c, "id")
}

func (h *Handlers) datasetByParam(c echo.Context, param string) (*store.Dataset, error) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "dataset not found")
	}
	ds, err := h.Store.GetDataset(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "dataset not found")
		}
		return nil, err
	}
	return &ds, nil
}

func (h *Handlers) datasetIntegration(c echo.Context, param string) (*store.Dataset, *registry.Integration, error) {
	ds, err := h.datasetByParam(c, param)
	if err != nil {
		return nil, nil, err
	}
	if ds.IntegrationType == "" {
		return nil, nil, echo.NewHTTPError(http.StatusNotFound, "dataset has no integration")
	}
	integration, ok := h.Registry.Resolve(ds.IntegrationType)
	if !ok {
		return nil, nil, echo.NewHTTPError(http.StatusNotFound, "unknown integration type")
	}
	return ds, integration, nil
}
