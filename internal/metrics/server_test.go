package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuxExposesPrometheusAndExpvar(t *testing.T) {
	BranchDecisions.WithLabelValues("perp").Inc()
	ScanCycles.Add(1)

	srv := httptest.NewServer(newMux())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `zo_keeper_liquidator_branch_decisions_total{branch="perp"}`)

	resp, err = srv.Client().Get(srv.URL + "/debug/vars")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"scan_cycles"`)
}
