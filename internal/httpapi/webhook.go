package httpapi

import (
	"io"
	"net/http"

	"github.com/confluxhq/conflux/internal/integrations/registry"
	"github.com/confluxhq/conflux/internal/metrics"
	"github.com/labstack/echo/v4"
)

// HandleWebhook routes an inbound provider delivery to the dataset's
// integration bundle. Missing dataset, missing integration and missing
// webhook capability are all 404 so providers stop retrying dead routes.
func (h *Handlers) HandleWebhook(c echo.Context) error {
	ds, integration, err := h.datasetIntegration(c, "dataset")
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("unknown", "not_found").Inc()
		return err
	}
	if integration.Webhook == nil {
		metrics.WebhookRequestsTotal.WithLabelValues(integration.Type, "not_found").Inc()
		return echo.NewHTTPError(http.StatusNotFound, "integration accepts no webhooks")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 4<<20))
	if err != nil {
		return err
	}
	req := &registry.WebhookRequest{
		Method: c.Request().Method,
		Header: c.Request().Header,
		Body:   body,
	}

	resp, err := integration.Webhook(c.Request().Context(), h.Syncer.Env("webhook"), ds, req)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues(integration.Type, "error").Inc()
		return err
	}
	outcome := "rejected"
	if resp.Status >= 200 && resp.Status < 300 {
		outcome = "accepted"
	}
	metrics.WebhookRequestsTotal.WithLabelValues(integration.Type, outcome).Inc()
	return c.JSON(resp.Status, resp.Body)
}
