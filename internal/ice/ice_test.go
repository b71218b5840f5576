package ice

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServers_SplitsStunAndTurn(t *testing.T) {
	got := Servers([]string{"stun:a:3478", " turn:b:3478 ", "", "turns:c:5349"}, "u", "p")

	require.Len(t, got, 2)
	assert.Equal(t, []string{"stun:a:3478"}, got[0].URLs)
	assert.Empty(t, got[0].Username)
	assert.Equal(t, []string{"turn:b:3478", "turns:c:5349"}, got[1].URLs)
	assert.Equal(t, "u", got[1].Username)
	assert.Equal(t, "p", got[1].Credential)
}

func TestServers_Default(t *testing.T) {
	assert.Equal(t, defaultServers, Servers(nil, "", ""))
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/ice-servers", Handler(Servers([]string{"stun:a:3478"}, "", "")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ice-servers", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"ice_servers":[{"urls":["stun:a:3478"]}]}}`, w.Body.String())
}
