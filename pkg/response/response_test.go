package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name string
		fn   func(c *gin.Context)
		code int
		msg  string
	}{
		{"success", func(c *gin.Context) { Success(c, gin.H{"n": 1}) }, http.StatusOK, "success"},
		{"bad request", func(c *gin.Context) { BadRequest(c, "bad") }, http.StatusBadRequest, "bad"},
		{"unauthorized", func(c *gin.Context) { Unauthorized(c, "who") }, http.StatusUnauthorized, "who"},
		{"not found", func(c *gin.Context) { NotFound(c, "gone") }, http.StatusNotFound, "gone"},
		{"conflict", func(c *gin.Context) { Conflict(c, "dup") }, http.StatusConflict, "dup"},
		{"internal", func(c *gin.Context) { InternalError(c, errors.New("boom")) }, http.StatusInternalServerError, "boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			tc.fn(c)

			assert.Equal(t, tc.code, w.Code)
			var body Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.msg, body.Message)
		})
	}
}
