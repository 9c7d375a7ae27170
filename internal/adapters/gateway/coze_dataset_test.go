package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-assist/internal/adapters/dto"
)

func TestCozeKnowledgeBase_ReplaceProducts(t *testing.T) {
	var (
		deleted []string
		created dto.CozeDocumentCreateRequest
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/open_api/knowledge/document/list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "str", r.Header.Get("Agw-Js-Conv"))
		writeJSON(w, 200, map[string]any{"code": 0, "total": 3, "document_infos": []map[string]any{
			{"document_id": "d1", "name": "products-default.csv"},
			{"document_id": "d2", "name": "faq.md"},
			{"document_id": "d3", "name": "products-default.csv"},
		}})
	})
	mux.HandleFunc("/open_api/knowledge/document/delete", func(w http.ResponseWriter, r *http.Request) {
		var body dto.CozeDocumentDeleteRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		deleted = body.DocumentIDs
		writeJSON(w, 200, map[string]any{"code": 0})
	})
	mux.HandleFunc("/open_api/knowledge/document/create", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		writeJSON(w, 200, map[string]any{"code": 0})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	kb := NewCozeKnowledgeBase(srv.URL, "ds-1", StaticTokenSource("pat"), zerolog.Nop())
	err := kb.ReplaceProducts(context.Background(), "default", []byte("Product ID,Name\n1,Mug\n"))

	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d3"}, deleted)
	assert.Equal(t, "ds-1", created.DatasetID)
	require.Len(t, created.DocumentBases, 1)
	assert.Equal(t, "products-default.csv", created.DocumentBases[0].Name)
	assert.Equal(t, "csv", created.DocumentBases[0].SourceInfo.FileType)
	raw, err := base64.StdEncoding.DecodeString(created.DocumentBases[0].SourceInfo.FileBase64)
	require.NoError(t, err)
	assert.Equal(t, "Product ID,Name\n1,Mug\n", string(raw))
}

func TestCozeKnowledgeBase_NoPreviousDocument(t *testing.T) {
	var deleteCalled bool
	mux := http.NewServeMux()
	mux.HandleFunc("/open_api/knowledge/document/list", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"code": 0, "total": 0, "document_infos": []any{}})
	})
	mux.HandleFunc("/open_api/knowledge/document/delete", func(w http.ResponseWriter, r *http.Request) {
		deleteCalled = true
	})
	mux.HandleFunc("/open_api/knowledge/document/create", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"code": 0})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	err := NewCozeKnowledgeBase(srv.URL, "ds-1", StaticTokenSource("pat"), zerolog.Nop()).
		ReplaceProducts(context.Background(), "default", []byte("x"))

	require.NoError(t, err)
	assert.False(t, deleteCalled)
}

func TestCozeKnowledgeBase_CreateFailureReturnsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/open_api/knowledge/document/list", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"code": 0, "document_infos": []any{}})
	})
	mux.HandleFunc("/open_api/knowledge/document/create", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"code": 700, "msg": "dataset full"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	err := NewCozeKnowledgeBase(srv.URL, "ds-1", StaticTokenSource("pat"), zerolog.Nop()).
		ReplaceProducts(context.Background(), "default", []byte("x"))

	assert.ErrorIs(t, err, ErrCozeAPI)
}

func TestCozeKnowledgeBase_RequiresDataset(t *testing.T) {
	err := NewCozeKnowledgeBase("http://unused", "", StaticTokenSource("pat"), zerolog.Nop()).
		ReplaceProducts(context.Background(), "default", nil)
	assert.Error(t, err)
}
