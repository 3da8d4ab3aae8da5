package streakfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	config := DefaultClientConfig(serverURL)
	config.RequestsPerSecond = 1000
	config.BurstSize = 100
	return NewClient(config)
}

func TestClient_QualifiedStudents(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"date": "2026-03-15",
			"student_ids": [
				"7c2f9e9b-1d2f-4c3a-8b4e-000000000001",
				"7c2f9e9b-1d2f-4c3a-8b4e-000000000002"
			]
		}`))
	}))
	defer server.Close()

	config := DefaultClientConfig(server.URL)
	config.APIKey = "worker-key"
	config.RequestsPerSecond = 1000
	config.BurstSize = 100
	client := NewClient(config)

	day := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	ids, err := client.QualifiedStudents(context.Background(), day)

	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, "7c2f9e9b-1d2f-4c3a-8b4e-000000000001", ids[0])
	assert.Equal(t, "/api/v1/streaks/qualified?date=2026-03-15", gotPath)
	assert.Equal(t, "Bearer worker-key", gotAuth)
}

func TestClient_QualifiedStudents_RetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"date": "2026-03-15", "student_ids": []}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	ids, err := client.QualifiedStudents(context.Background(), time.Now())

	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 3, attempts)
}

func TestClient_QualifiedStudents_PermanentAPIError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code": "forbidden", "message": "invalid api key"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.QualifiedStudents(context.Background(), time.Now())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Equal(t, 1, attempts, "client errors must not be retried")
}

func TestClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	assert.NoError(t, client.Ping(context.Background()))
}
