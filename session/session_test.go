package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/session/refresh", r.URL.Path)
		assert.Equal(t, "Bearer old", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"token": "new"})
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, "old", nil)
	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", tok)

	tok, err = s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", tok)

	// Последующие вызовы видят токен, сохранённый победившим Refresh.
	tok, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
}

func TestHTTPSourceRefreshRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, "old", nil)
	_, err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHTTPSourceEmptyToken(t *testing.T) {
	s := NewHTTPSource("http://localhost", "", nil)
	_, err := s.Token(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}
