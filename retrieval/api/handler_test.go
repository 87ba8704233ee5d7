package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/pkg/middleware"
	"ai-baas/backend/retrieval/index"
	"ai-baas/backend/retrieval/models"
	"ai-baas/backend/retrieval/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// letterEmbedder counts a few letters, enough to rank short texts
type letterEmbedder struct{}

func (letterEmbedder) vec(s string) []float32 {
	return []float32{
		float32(strings.Count(s, "x")),
		float32(strings.Count(s, "y")),
		0.1,
	}
}

func (e letterEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

func (e letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vec(text), nil
}

func newServer(t *testing.T) (*gin.Engine, *index.MemoryIndex) {
	t.Helper()
	idx := index.NewMemoryIndex()
	aug := service.NewAugmentor(letterEmbedder{}, idx, 2, 0, nil, logger.Discard())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(errors.ErrorHandler())
	RegisterRoutes(r.Group("/api/v1", middleware.CallerIdentity()), NewHandler(aug, 2))
	return r, idx
}

func call(t *testing.T, r *gin.Engine, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.UserIDHeader, user)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIndexSearchDelete(t *testing.T) {
	r, idx := newServer(t)

	w := call(t, r, http.MethodPost, "/api/v1/documents/7/index", "1", gin.H{"text": "xx xx yy yy"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"file_id":7,"chunks":2}`, w.Body.String())
	assert.Equal(t, 2, idx.Len())

	w = call(t, r, http.MethodPost, "/api/v1/search", "1", gin.H{"query": "x", "limit": 1})
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Results []models.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "xx xx", out.Results[0].Content)

	w = call(t, r, http.MethodPost, "/api/v1/search", "2", gin.H{"query": "x"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, w.Body.String())

	w = call(t, r, http.MethodDelete, "/api/v1/documents/7", "1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, idx.Len())
}

func TestSearchValidation(t *testing.T) {
	r, _ := newServer(t)

	w := call(t, r, http.MethodPost, "/api/v1/search", "1", gin.H{"query": "x", "limit": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), errors.CodeInvalidConfig)

	w = call(t, r, http.MethodPost, "/api/v1/documents/abc/index", "1", gin.H{"text": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(t, r, http.MethodPost, "/api/v1/documents/1/index", "1", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentsOfAnotherUserAreNotFound(t *testing.T) {
	r, idx := newServer(t)

	w := call(t, r, http.MethodPost, "/api/v1/documents/7/index", "1", gin.H{"text": "xx xx yy yy"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(t, r, http.MethodDelete, "/api/v1/documents/7", "2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), errors.CodeNotFound)
	assert.Equal(t, 2, idx.Len())

	w = call(t, r, http.MethodPost, "/api/v1/documents/7/index", "2", gin.H{"text": "zz"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = call(t, r, http.MethodPost, "/api/v1/search", "1", gin.H{"query": "x"})
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Results []models.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.Results, 2)
}
