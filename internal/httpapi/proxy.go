package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/confluxhq/conflux/internal/metrics"
	"github.com/labstack/echo/v4"
)

// Inbound headers that must never reach the provider: they describe the
// hop to this server, not the proxied call.
var proxyStripRequest = []string{
	"Host",
	"Authorization",
	"Proxy-Authorization",
	"Content-Encoding",
	"Content-Length",
}

// Response framing headers are stripped because the body is re-framed on
// the way back out.
var proxyStripResponse = []string{
	"Content-Encoding",
	"Content-Length",
}

// HandleProxy forwards an API call to the dataset's provider with the
// resolved bearer token injected, so UI and automation callers never see
// raw credentials.
func (h *Handlers) HandleProxy(c echo.Context) error {
	ds, integration, err := h.datasetIntegration(c, "dataset")
	if err != nil {
		return err
	}
	if integration.ProxyBaseURL == "" {
		return echo.NewHTTPError(http.StatusNotFound, "integration has no proxy")
	}

	token, err := h.Resolver.ResolveToken(c.Request().Context(), ds, integration.OAuth)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "credential resolution failed")
	}

	target := integration.ProxyBaseURL + "/" + strings.TrimPrefix(c.Param("*"), "/")
	if q := c.Request().URL.RawQuery; q != "" {
		target += "?" + q
	}

	inbound := c.Request()
	outbound, err := http.NewRequestWithContext(inbound.Context(), inbound.Method, target, inbound.Body)
	if err != nil {
		return err
	}
	outbound.Header = inbound.Header.Clone()
	for _, name := range proxyStripRequest {
		outbound.Header.Del(name)
	}
	if token != "" {
		outbound.Header.Set("Authorization", "Bearer "+token)
	}
	for name, value := range integration.ProxyHeaders {
		outbound.Header.Set(name, value)
	}

	client := h.ProxyClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := client.Do(outbound)
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues(integration.Type, "error").Inc()
		return echo.NewHTTPError(http.StatusBadGateway, "upstream request failed")
	}
	defer resp.Body.Close()
	metrics.ProxyRequestsTotal.WithLabelValues(integration.Type, strconv.Itoa(resp.StatusCode)).Inc()

	headers := c.Response().Header()
	for name, values := range resp.Header {
		for _, v := range values {
			headers.Add(name, v)
		}
	}
	for _, name := range proxyStripResponse {
		headers.Del(name)
	}
	c.Response().WriteHeader(resp.StatusCode)
	_, err = io.Copy(c.Response(), resp.Body)
	return err
}
