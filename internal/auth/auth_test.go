package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchparty/backend/internal/party"
	"github.com/watchparty/backend/pkg/response"
)

func TestGenerateValidate(t *testing.T) {
	s := NewJWTService("secret", 2)
	token, err := s.Generate("s1", "u1", "d1")
	require.NoError(t, err)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "d1", claims.DeviceID)
	assert.NotEmpty(t, claims.ID)

	sid, uid, err := s.SessionOf(token)
	require.NoError(t, err)
	assert.Equal(t, "s1", sid)
	assert.Equal(t, "u1", uid)
}

func TestValidateExpired(t *testing.T) {
	s := NewJWTService("secret", 1)
	token, err := s.Generate("s1", "u1", "d1")
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateGarbage(t *testing.T) {
	_, err := NewJWTService("secret", 1).Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

type fakeResolver struct {
	session *party.SessionInfo
	err     error
}

func (f fakeResolver) SessionForToken(ctx context.Context, accessToken, deviceID string) (*party.SessionInfo, error) {
	return f.session, f.err
}

func postSession(t *testing.T, h *Handler, body string) (*httptest.ResponseRecorder, response.Body) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/session", h.Session)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/session", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var out response.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestSessionHandler(t *testing.T) {
	jwt := NewJWTService("secret", 1)
	h := NewHandler(fakeResolver{session: &party.SessionInfo{ID: "s1", UserID: "u1", UserName: "Alice", DeviceID: "d1"}}, jwt, nil)

	w, out := postSession(t, h, `{"access_token":"tok","device_id":"d1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, out.Success)
	data := out.Data.(map[string]interface{})
	assert.Equal(t, "s1", data["session_id"])
	claims, err := jwt.Validate(data["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.SessionID)
}

func TestSessionHandlerRejects(t *testing.T) {
	jwt := NewJWTService("secret", 1)

	w, _ := postSession(t, NewHandler(fakeResolver{}, jwt, nil), `{"device_id":"d1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = postSession(t, NewHandler(fakeResolver{err: party.ErrNotFound}, jwt, nil), `{"access_token":"t","device_id":"d1"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, out := postSession(t, NewHandler(fakeResolver{err: errors.New("401")}, jwt, nil), `{"access_token":"t","device_id":"d1"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid access token", out.Error)
}
