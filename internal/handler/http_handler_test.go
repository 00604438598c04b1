package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	env := decodeEnvelope(t, w)
	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	return env.Error.Code
}

func createPrivate(t *testing.T, s *stack, creator string, members ...string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"workspace_id": testWorkspace,
		"name":         "team",
		"kind":         "private",
		"members":      members,
	})
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/api/v1/channels", creator, string(body))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var ch struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &ch))
	return ch.ID
}

func TestRESTRequiresBearerToken(t *testing.T) {
	s := newStack(t)

	w := s.do(t, http.MethodGet, "/api/v1/channels?workspace="+testWorkspace, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
}

func TestRESTChannelAccess(t *testing.T) {
	s := newStack(t)
	id := createPrivate(t, s, "alice", "bob")

	w := s.do(t, http.MethodGet, "/api/v1/channels/"+id, "bob", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/channels/"+id, "carol", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "ACCESS_DENIED", errorCode(t, w))

	w = s.do(t, http.MethodGet, "/api/v1/channels/missing", "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/channels", "alice", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/channels?workspace="+testWorkspace, "carol", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &list))
	assert.Empty(t, list)

	w = s.do(t, http.MethodPost, "/api/v1/channels/"+id+"/members", "alice", `{"user_id":"carol"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/channels/"+id, "carol", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/channels/"+id+"/members", "alice", `{"user_id":"carol"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/channels/"+id, "carol", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRESTSecondPublicChannelConflicts(t *testing.T) {
	s := newStack(t)
	body := fmt.Sprintf(`{"workspace_id":%q,"name":"general","kind":"public"}`, testWorkspace)

	w := s.do(t, http.MethodPost, "/api/v1/channels", "owner", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/channels", "owner", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_STATE", errorCode(t, w))
}

func TestRESTOpenDirect(t *testing.T) {
	s := newStack(t)
	body := fmt.Sprintf(`{"workspace_id":%q,"user_id":"bob"}`, testWorkspace)

	w := s.do(t, http.MethodPost, "/api/v1/channels/direct", "alice", body)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/channels/direct", "alice", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRESTMessageLifecycle(t *testing.T) {
	s := newStack(t)
	id := createPrivate(t, s, "alice", "bob")

	w := s.do(t, http.MethodPost, "/api/v1/channels/"+id+"/messages", "alice", `{"body":"hello"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var msg struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &msg))

	w = s.do(t, http.MethodGet, "/api/v1/channels/"+id+"/unread-count", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"channel_id":%q,"count":1}`, id), string(decodeEnvelope(t, w).Data))

	w = s.do(t, http.MethodGet, "/api/v1/workspace/"+testWorkspace+"/unread-counts", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{%q:1}`, id), string(decodeEnvelope(t, w).Data))

	w = s.do(t, http.MethodPost, "/api/v1/channels/"+id+"/read", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/channels/"+id+"/unread-count", "bob", "")
	assert.JSONEq(t, fmt.Sprintf(`{"channel_id":%q,"count":0}`, id), string(decodeEnvelope(t, w).Data))

	path := fmt.Sprintf("/api/v1/messages/%d", msg.ID)
	w = s.do(t, http.MethodPatch, path, "bob", `{"body":"mine now"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPatch, path, "alice", `{"body":"edited"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, path, "alice", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPatch, path, "alice", `{"body":"again"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/channels/"+id+"/messages?limit=10", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Messages []struct {
			Body      string `json:"body"`
			IsDeleted bool   `json:"is_deleted"`
		} `json:"messages"`
		HasMore bool `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &page))
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].IsDeleted)
	assert.Empty(t, page.Messages[0].Body)
	assert.False(t, page.HasMore)

	w = s.do(t, http.MethodGet, "/api/v1/channels/"+id+"/messages?before=abc", "bob", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPatch, "/api/v1/messages/zero", "alice", `{"body":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRESTDeleteChannel(t *testing.T) {
	s := newStack(t)
	id := createPrivate(t, s, "alice", "bob")

	w := s.do(t, http.MethodDelete, "/api/v1/channels/"+id, "bob", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/channels/"+id, "alice", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/channels/"+id, "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
