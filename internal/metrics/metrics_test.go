package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesPrometheusAndExpvar(t *testing.T) {
	ProbesTotal.WithLabelValues("tms", "matched").Inc()
	MonitorCycles.Add(1)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	get := func(path string) string {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		b, _ := io.ReadAll(resp.Body)
		return string(b)
	}

	assert.Contains(t, get("/metrics"), `circuitbot_probes_total{outcome="matched",venue="tms"}`)
	assert.Contains(t, get("/debug/vars"), `"monitor_cycles"`)
}

func TestStartAsync_ShutsDownWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := StartAsync(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	require.NotNil(t, s)
	cancel()
}

func TestBoolLabel(t *testing.T) {
	assert.Equal(t, "true", BoolLabel(true))
	assert.Equal(t, "false", BoolLabel(false))
}
