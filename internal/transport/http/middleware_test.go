package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook?hub.verify_token=secret-value&hub.challenge=c", nil))

	requestID := rr.Header().Get(RequestIDHeader)
	require.NotEmpty(t, requestID)

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, requestID, fields["request_id"])
	require.Equal(t, "/webhook", fields["path"])
	require.EqualValues(t, http.StatusOK, fields["status"])
	for _, value := range fields {
		if s, ok := value.(string); ok {
			require.NotContains(t, s, "secret-value")
		}
	}
}

func TestRequestLoggerKeepsIncomingRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, "req-123", rr.Header().Get(RequestIDHeader))
	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }), mark("outer"), mark("inner"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig(":3000", 10*time.Second)
	srv := NewServer(cfg, http.NotFoundHandler())

	require.Equal(t, ":3000", srv.Addr)
	require.Equal(t, 35*time.Second, srv.WriteTimeout)
	require.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
}
