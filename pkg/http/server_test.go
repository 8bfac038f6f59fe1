package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeRequest struct {
	Name  string `query:"name" validate:"required,max=8"`
	Limit int    `query:"limit" default:"10" validate:"gte=1,lte=50"`
}

type probeHandler struct{}

func (probeHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/probe", func(c echo.Context) error {
		req := &probeRequest{}
		if errs := ReadAndValidateRequest(c, req); errs != nil {
			return BadRequestResponse(c, errs)
		}
		return SuccessResponse(c, req)
	})
	e.GET("/fail", func(c echo.Context) error {
		return AppErrorResponse(c, UpstreamError("ERR_SOURCE", "down").WithError(errors.New("dial")))
	})
	e.GET("/plain", func(c echo.Context) error {
		return AppErrorResponse(c, errors.New("boom"))
	})
	e.GET("/panic", func(c echo.Context) error {
		panic("kaboom")
	})
}

func newTestServer(opts ...ServerOption) *echo.Echo {
	return NewServer([]Handler{probeHandler{}, nil}, opts...).Echo()
}

func get(e *echo.Echo, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) (APIResponse, []map[string]interface{}) {
	t.Helper()
	var env struct {
		APIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	var items []map[string]interface{}
	_ = json.Unmarshal(env.Data, &items)
	return env.APIResponse, items
}

func TestValidationEnvelope(t *testing.T) {
	e := newTestServer(WithCORS(false))

	rec := get(e, "/probe?name=eurusd", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":200,"message":"OK","data":{"Name":"eurusd","Limit":10}}`, rec.Body.String())

	env, items := decode(t, get(e, "/probe?limit=99", nil))
	assert.Equal(t, http.StatusBadRequest, env.Status)
	require.Len(t, items, 2)
	assert.Equal(t, "ERR_REQUIRED", items[0]["code"])
	assert.Equal(t, "name", items[0]["field"])
	assert.Equal(t, "ERR_LTE", items[1]["code"])
	assert.Equal(t, "limit must be less than or equal to 50", items[1]["message"])

	env, items = decode(t, get(e, "/probe?name=x&limit=many", nil))
	assert.Equal(t, http.StatusBadRequest, env.Status)
	require.Len(t, items, 1)
	assert.Equal(t, "ERR_UNKNOWN", items[0]["code"])
	assert.Contains(t, items[0]["message"], "many")
}

func TestAppErrorEnvelope(t *testing.T) {
	e := newTestServer()

	env, items := decode(t, get(e, "/fail", nil))
	assert.Equal(t, http.StatusBadGateway, env.Status)
	require.Len(t, items, 1)
	assert.Equal(t, "ERR_SOURCE", items[0]["code"])
	assert.NotContains(t, items[0], "Err")

	rec := get(e, "/plain", nil)
	assert.Contains(t, rec.Body.String(), `"status":500`)
}

func TestRecoverMiddleware(t *testing.T) {
	rec := get(newTestServer(), "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORS(t *testing.T) {
	open := newTestServer(WithCORS(true))
	rec := get(open, "/probe?name=a", map[string]string{"Origin": "https://any.io"})
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	restricted := newTestServer(WithCORS(true, "https://app.example.com"))
	rec = get(restricted, "/probe?name=a", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, "https://app.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	rec = get(restricted, "/probe?name=a", map[string]string{"Origin": "https://evil.io"})
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	off := newTestServer(WithCORS(false))
	rec = get(off, "/probe?name=a", map[string]string{"Origin": "https://any.io"})
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newTestServer(WithMetrics("/metrics", reg, reg))

	get(e, "/probe?name=a", nil)
	rec := get(e, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "# HELP"), rec.Body.String())
}

func TestServerAddr(t *testing.T) {
	s := NewServer(nil, WithHost("127.0.0.1"), WithPort(5100))
	assert.Equal(t, "127.0.0.1:5100", s.Addr())
}
