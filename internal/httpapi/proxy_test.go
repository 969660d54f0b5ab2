package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/confluxhq/conflux/internal/integrations/registry"
	"github.com/confluxhq/conflux/internal/store"
	"github.com/google/uuid"
)

func TestProxyInjectsTokenAndStripsHopHeaders(t *testing.T) {
	t.Parallel()

	var upstreamReq *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := r.Clone(r.Context())
		upstreamReq = req
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "brewed")
	}))
	defer upstream.Close()

	integration := &registry.Integration{
		Type:         "linear",
		Available:    true,
		ProxyBaseURL: upstream.URL,
		ProxyHeaders: map[string]string{"Content-Type": "application/json"},
	}
	fx := newFixture(t, integration)
	ds := fx.store.add(store.Dataset{ID: uuid.New(), IntegrationType: "linear"})

	req, _ := http.NewRequest(http.MethodPost,
		fx.srv.URL+"/api/proxy/"+ds.ID.String()+"/graphql?pretty=1",
		strings.NewReader(`{"query":"{ issues { id } }"}`))
	req.Header.Set("Authorization", "Bearer caller-token")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("Content-Encoding", "identity")
	req.Header.Set("X-Custom", "kept")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("proxy request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("status = %d, want upstream's 418", resp.StatusCode)
	}
	if string(body) != "brewed" {
		t.Fatalf("body = %q", body)
	}
	if resp.Header.Get("Content-Encoding") != "" {
		t.Fatal("response Content-Encoding must be stripped")
	}
	if resp.Header.Get("X-Upstream") != "yes" {
		t.Fatal("other response headers must be relayed")
	}

	if upstreamReq.URL.Path != "/graphql" || upstreamReq.URL.RawQuery != "pretty=1" {
		t.Fatalf("upstream saw %s?%s", upstreamReq.URL.Path, upstreamReq.URL.RawQuery)
	}
	if got := upstreamReq.Header.Get("Authorization"); got != "Bearer resolved-token" {
		t.Fatalf("upstream Authorization = %q, caller credentials must be replaced", got)
	}
	if upstreamReq.Header.Get("Proxy-Authorization") != "" {
		t.Fatal("Proxy-Authorization must be stripped")
	}
	if upstreamReq.Header.Get("Content-Encoding") != "" {
		t.Fatal("inbound Content-Encoding must be stripped")
	}
	if got := upstreamReq.Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("integration proxy header missing, Content-Type = %q", got)
	}
	if upstreamReq.Header.Get("X-Custom") != "kept" {
		t.Fatal("unrelated caller headers must pass through")
	}
}

func TestProxyWithoutCapabilityIs404(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &registry.Integration{Type: "bare", Available: true})
	ds := fx.store.add(store.Dataset{ID: uuid.New(), IntegrationType: "bare"})

	resp, _ := doJSON(t, http.MethodGet, fx.srv.URL+"/api/proxy/"+ds.ID.String()+"/anything", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
