package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchICEServers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" || r.URL.Path != "/api/ice-servers" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"ice_servers":[{"urls":["stun:a:3478"]},{"urls":["turn:b:3478"],"username":"u","credential":"p"}]}}`))
	}))
	defer srv.Close()

	servers, err := FetchICEServers(context.Background(), srv.URL, "tok", nil)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"turn:b:3478"}, servers[1].URLs)
	assert.Equal(t, "u", servers[1].Username)

	_, err = FetchICEServers(context.Background(), srv.URL, "bad", nil)
	assert.ErrorContains(t, err, "401")
}
