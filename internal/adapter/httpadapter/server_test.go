package httpadapter_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/covid-model-deaths/internal/adapter/httpadapter"
)

func newTestServer(checks httpadapter.Checks) *httpadapter.Server {
	return httpadapter.NewServer(":0", checks, slog.Default())
}

func serve(srv *httpadapter.Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	checks := httpadapter.Checks{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "redis"},
	}

	rec := serve(newTestServer(checks), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	checks := httpadapter.Checks{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "pipeline", Check: func(context.Context) error { return errors.New("inputs not loaded") }},
	}

	rec := serve(newTestServer(checks), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "inputs not loaded")
}

func TestChecks_FirstFailureWins(t *testing.T) {
	var ran []string
	check := func(name string, err error) httpadapter.Check {
		return httpadapter.Check{Name: name, Check: func(context.Context) error {
			ran = append(ran, name)
			return err
		}}
	}
	checks := httpadapter.Checks{check("a", nil), check("b", errors.New("down")), check("c", nil)}

	err := checks.CheckReadiness(context.Background())

	require.Error(t, err)
	assert.Equal(t, "b: down", err.Error())
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
