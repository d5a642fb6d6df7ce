package dicomweb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinEndpoint(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"https://dicom.example.com", "", "https://dicom.example.com/studies"},
		{"https://dicom.example.com/", "/studies", "https://dicom.example.com/studies"},
		{"https://host/v1/", "studies", "https://host/v1/studies"},
	}
	for _, tt := range tests {
		got, err := joinEndpoint(tt.base, tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := joinEndpoint("ftp://host", "")
	assert.Error(t, err)
}

func TestStoreSendsDICOM(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/studies", r.URL.Path)
		assert.Equal(t, "application/dicom", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/dicom+json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"00081199":{}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, BearerToken: "secret", Timeout: 5 * time.Second}, 4)
	require.NoError(t, err)
	defer c.CloseIdleConnections()

	resp, err := c.Store(context.Background(), []byte("DICM-payload"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"00081199":{}}`, string(resp.Body))
	assert.Equal(t, []byte("DICM-payload"), gotBody)
}

func TestStoreReturnsErrorStatuses(t *testing.T) {
	for _, status := range []int{http.StatusConflict, http.StatusBadRequest, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("reason"))
		}))

		c, err := NewClient(Config{URL: srv.URL}, 1)
		require.NoError(t, err)

		resp, err := c.Store(context.Background(), []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode)
		assert.Equal(t, "reason", string(resp.Body))

		srv.Close()
	}
}

func TestStoreTruncatesLargeBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("e", maxBodyBytes*2)))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL}, 1)
	require.NoError(t, err)

	resp, err := c.Store(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, resp.Body, maxBodyBytes)
}

func TestStoreTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{URL: url}, 1)
	require.NoError(t, err)

	_, err = c.Store(context.Background(), []byte("x"))
	assert.Error(t, err)
}
