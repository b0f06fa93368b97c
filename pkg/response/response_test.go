package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/wardenapp/warden/pkg/errors"
)

func recordJSON(t *testing.T, fn func(c *gin.Context)) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	fn(c)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestSuccess(t *testing.T) {
	w, body := recordJSON(t, func(c *gin.Context) {
		Success(c, http.StatusCreated, gin.H{"user_id": "abc"})
	})

	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, body.Success)
	require.Nil(t, body.Error)
}

func TestErrorRendersAppError(t *testing.T) {
	w, body := recordJSON(t, func(c *gin.Context) {
		Error(c, appErrors.ErrInviteExhausted)
	})

	require.Equal(t, http.StatusGone, w.Code)
	require.False(t, body.Success)
	require.Equal(t, "invite.exhausted", body.Error.Code)
	require.Equal(t, "This invite is no longer valid.", body.Error.Message)
}

func TestErrorHidesInternalDetail(t *testing.T) {
	w, body := recordJSON(t, func(c *gin.Context) {
		Error(c, errors.New("pq: connection reset by peer"))
	})

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "INTERNAL_SERVER_ERROR", body.Error.Code)
	require.NotContains(t, body.Error.Message, "pq:")
}
