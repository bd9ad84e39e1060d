package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrichment-service/internal/model"
)

func TestGetPerson(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		response   string
		wantErr    bool
		notFound   bool
	}{
		{
			name:       "happy path",
			statusCode: http.StatusOK,
			response:   `{"id":"p-1","companyId":"c-1","company":{"name":"Acme"},"retryCount":1}`,
		},
		{
			name:       "not found",
			statusCode: http.StatusNotFound,
			response:   `{"error":"no such person"}`,
			wantErr:    true,
			notFound:   true,
		},
		{
			name:       "server error",
			statusCode: http.StatusInternalServerError,
			response:   `{"error":"boom"}`,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/people/p-1", r.URL.Path)
				assert.Equal(t, "user-9", r.Header.Get("x-user-id"))
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			client := NewClient(srv.URL)
			person, err := client.GetPerson(context.Background(), "p-1", "user-9")

			if tt.wantErr {
				require.Error(t, err)
				if tt.notFound {
					assert.True(t, errors.Is(err, ErrNotFound))
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "p-1", person.ID)
			assert.Equal(t, "Acme", person.Company.Name)
			assert.Equal(t, 1, person.RetryCount)
		})
	}
}

func TestMarkInProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/people/p-1/start", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "job-42", body["jobId"])

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	require.NoError(t, client.MarkInProgress(context.Background(), "p-1", "job-42"))
}

func TestMarkCompleteAndFailed(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	require.NoError(t, client.MarkComplete(context.Background(), "p-1"))
	require.NoError(t, client.MarkFailed(context.Background(), "p-2"))
	assert.Equal(t, []string{"/api/people/p-1/complete", "/api/people/p-2/failed"}, paths)
}

func TestSaveContextSnippets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/snippets/batch", r.URL.Path)

		var body struct {
			Snippets []model.ContextSnippet `json:"snippets"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Snippets, 2)
		assert.Equal(t, "c-1", body.Snippets[0].EntityID)
		assert.Equal(t, model.SnippetCompanyValueProp, body.Snippets[0].SnippetType)

		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	snippets := []model.ContextSnippet{
		{EntityType: "COMPANY", EntityID: "c-1", SnippetType: model.SnippetCompanyValueProp},
		{EntityType: "COMPANY", EntityID: "c-1", SnippetType: model.SnippetPricingModel},
	}
	require.NoError(t, client.SaveContextSnippets(context.Background(), snippets))
}

func TestLogSearchIteration_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/snippets/search-logs", r.URL.Path)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.LogSearchIteration(context.Background(), model.SearchLog{PersonID: "p-1"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "upstream down")
}
