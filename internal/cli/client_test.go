package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/merge"
	"github.com/Ramsey-B/fern/pkg/middleware"
)

func TestClient_Merge(t *testing.T) {
	t.Run("decodes a pipeline result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/workspaces/ws-1/users/merge", r.URL.Path)
			assert.Equal(t, "caller", r.Header.Get(middleware.HeaderUserID))
			assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))

			body, _ := io.ReadAll(r.Body)
			var req merge.MergeRequest
			assert.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "src", req.SourceID)
			if assert.NotNil(t, req.StartPhase) {
				assert.Equal(t, 3, *req.StartPhase)
			}

			w.WriteHeader(http.StatusRequestTimeout)
			_, _ = w.Write([]byte(`{"success":false,"partial":true,"error":"Phase 3 timed out.","nextPhase":3}`))
		}))
		defer server.Close()

		client := NewClient(server.URL+"/", "caller", "tkn", time.Second)
		phase := 3
		res, err := client.Merge(context.Background(), "ws-1", merge.MergeRequest{SourceID: "src", TargetID: "tgt", StartPhase: &phase})

		require.NoError(t, err)
		assert.Equal(t, http.StatusRequestTimeout, res.StatusCode)
		require.NotNil(t, res.Result)
		assert.True(t, res.Result.Partial)
		require.NotNil(t, res.Result.NextPhase)
		assert.Equal(t, 3, *res.Result.NextPhase)
	})

	t.Run("keeps the message of a rejected request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Target user not found"}`))
		}))
		defer server.Close()

		res, err := NewClient(server.URL, "", "", time.Second).Merge(context.Background(), "ws-1", merge.MergeRequest{})

		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		assert.Nil(t, res.Result)
		assert.Equal(t, "Target user not found", res.Message)
	})
}

func TestClient_Duplicates(t *testing.T) {
	t.Run("passes the strategy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/workspaces/ws-1/users/duplicates", r.URL.Path)
			assert.Equal(t, "newest", r.URL.Query().Get("strategy"))
			_, _ = w.Write([]byte(`{"clusters":[],"total":0,"strategy":"newest","pairs":[{"targetId":"a","sourceId":"b"}],"conflicts":[]}`))
		}))
		defer server.Close()

		res, err := NewClient(server.URL, "caller", "", time.Second).Duplicates(context.Background(), "ws-1", "newest")

		require.NoError(t, err)
		require.Len(t, res.Pairs, 1)
		assert.Equal(t, "a", res.Pairs[0].TargetID)
	})

	t.Run("errors on a non-200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"You are not a member of this workspace"}`))
		}))
		defer server.Close()

		_, err := NewClient(server.URL, "caller", "", time.Second).Duplicates(context.Background(), "ws-1", "")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "You are not a member of this workspace")
	})
}

func TestClient_Preview(t *testing.T) {
	t.Run("decodes the preview", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/workspaces/ws-1/users/merge/preview", r.URL.Path)
			_, _ = w.Write([]byte(`{"sourceUserId":"src","targetUserId":"tgt","fieldsFromSource":["email"],"balance":80,"linkTransferred":true,"collisions":[{"table":"user_linked_promotions","pk_column":"user_id,promo_id","keys":["p1"]}]}`))
		}))
		defer server.Close()

		preview, err := NewClient(server.URL, "caller", "", time.Second).Preview(context.Background(), "ws-1", merge.MergeRequest{SourceID: "src", TargetID: "tgt"})

		require.NoError(t, err)
		assert.Equal(t, []string{"email"}, preview.FieldsFromSource)
		assert.Equal(t, 80.0, preview.Balance)
		assert.True(t, preview.LinkTransferred)
		require.Len(t, preview.Collisions, 1)
		assert.Equal(t, "user_id,promo_id", preview.Collisions[0].PKColumn)

		var out strings.Builder
		printPreview(&out, preview)
		assert.Contains(t, out.String(), "fill from source: email")
		assert.Contains(t, out.String(), "move platform link")
		assert.Contains(t, out.String(), "drop 1 source row(s) of user_linked_promotions")
	})

	t.Run("rejected request is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"Insufficient permissions"}`))
		}))
		defer server.Close()

		_, err := NewClient(server.URL, "caller", "", time.Second).Preview(context.Background(), "ws-1", merge.MergeRequest{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "Insufficient permissions")
	})
}
