package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSend_Success(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json; charset=utf-8", r.Header.Get("Content-Type"))
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	err := client.Send(context.Background(), srv.URL, []byte(`{"type":"message"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"message"}`, string(got))
}

func TestSend_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, "invalid card")
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	err := client.Send(context.Background(), srv.URL, []byte(`{}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid card")
}

func TestSend_AcceptedIsStillError(t *testing.T) {
	// Only 200 counts as success for webhook endpoints.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	require.Error(t, client.Send(context.Background(), srv.URL, []byte(`{}`)))
}

func TestSend_TransportError(t *testing.T) {
	client := NewClient(500 * time.Millisecond)
	err := client.Send(context.Background(), "http://127.0.0.1:1/hook", []byte(`{}`))
	require.Error(t, err)
}
