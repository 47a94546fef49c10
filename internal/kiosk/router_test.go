package kiosk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paystubhq/punchcard/internal/keystore"
	"github.com/paystubhq/punchcard/internal/metrics"
	"github.com/paystubhq/punchcard/internal/qrtoken"
)

func postVerify(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestVerifyEndpointOK(t *testing.T) {
	e := newTestEnv(t)
	h := NewRouter(e.svc, nil)

	rr := postVerify(t, h, fmt.Sprintf(`{"token":%q}`, e.mint(t)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	var res VerifyResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.True(t, res.OK)
	require.Equal(t, testEmployee, res.EmployeeID)
	require.Equal(t, string(qrtoken.TimeIn), res.Type)
}

func TestVerifyEndpointDuplicate(t *testing.T) {
	e := newTestEnv(t)
	h := NewRouter(e.svc, nil)
	body := fmt.Sprintf(`{"token":%q}`, e.mint(t))

	postVerify(t, h, body)
	rr := postVerify(t, h, body)
	require.Equal(t, http.StatusOK, rr.Code)

	var res VerifyResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.False(t, res.OK)
	require.Equal(t, ReasonDuplicate, res.Reason)
}

func TestVerifyEndpointRejectsBadJSON(t *testing.T) {
	e := newTestEnv(t)
	h := NewRouter(e.svc, nil)

	rr := postVerify(t, h, `{"token":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var he HTTPError
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &he))
	require.Equal(t, "invalid_json", he.Code)
}

func TestVerifyEndpointRejectsEmptyToken(t *testing.T) {
	e := newTestEnv(t)
	h := NewRouter(e.svc, nil)

	rr := postVerify(t, h, `{"token":"  "}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var he HTTPError
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &he))
	require.Equal(t, "bad_request", he.Code)
}

func TestStatusEndpoint(t *testing.T) {
	e := newTestEnv(t)
	h := NewRouter(e.svc, nil)

	rr := get(t, h, "/v1/status")
	require.Equal(t, http.StatusOK, rr.Code)

	var st keystore.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	require.True(t, st.Ready)
	require.Equal(t, 1, st.TotalKeys)
	require.Equal(t, 1, st.ValidKeys)
	require.Equal(t, int64(testNowMS), st.LastSync)
}

func TestHealthzEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rr := get(t, NewRouter(e.svc, nil), "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"ok"`)
}

func TestHealthzDegradedWhenGuardDown(t *testing.T) {
	e := newTestEnv(t)
	svc := NewService(e.store, qrtoken.NewVerifier(e.store), failingGuard{}, WithLogger(zap.NewNop()))

	rr := get(t, NewRouter(svc, nil), "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestNotFoundShape(t *testing.T) {
	e := newTestEnv(t)
	rr := get(t, NewRouter(e.svc, nil), "/no-existe")
	require.Equal(t, http.StatusNotFound, rr.Code)

	var he HTTPError
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &he))
	require.Equal(t, "not_found", he.Code)
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	e := newTestEnv(t)
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.RegisterKiosk(reg))
	h := NewRouter(e.svc, reg)

	postVerify(t, h, fmt.Sprintf(`{"token":%q}`, e.mint(t)))

	rr := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "punchcard_verify_total")
}
