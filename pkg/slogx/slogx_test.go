package slogx

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestFromContext_Default(t *testing.T) {
	t.Parallel()

	require.Equal(t, slog.Default(), FromContext(context.Background()))

	l := Discard()
	require.Equal(t, l, FromContext(WithContext(context.Background(), l)))
}

func TestWithRequestID(t *testing.T) {
	t.Parallel()

	require.Empty(t, RequestID(context.Background()))

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := WithRequestID(WithContext(context.Background(), base), "01ARZ3NDEKTSV4RRFFQ69G5FAV")

	require.Equal(t, "01ARZ3NDEKTSV4RRFFQ69G5FAV", RequestID(ctx))
	FromContext(ctx).Info("hello")
	require.Contains(t, buf.String(), "req_id=01ARZ3NDEKTSV4RRFFQ69G5FAV")
}

func TestTransport_LogsWithoutHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	client := &http.Client{Transport: &Transport{Logger: logger}}
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/users/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set(RequestIDHeader, "req-1")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	out := buf.String()
	require.Contains(t, out, `"status":418`)
	require.Contains(t, out, `"req_id":"req-1"`)
	require.Contains(t, out, `"path":"/api/users/me"`)
	require.NotContains(t, out, "secret-token")
}
