package rest

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustalink/server/internal/config"
	"github.com/rustalink/server/internal/player"
	"github.com/rustalink/server/internal/plugins"
	"github.com/rustalink/server/internal/resolve"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.AppConfig{}
	cfg.Server.Password = "secret"
	manager := player.NewManager(cfg, nil, resolve.NewRegistry(), plugins.NewLoader())
	return NewServer(cfg, nil, resolve.NewRegistry(), []string{"http", "local"}, plugins.NewLoader(), manager, nil, nil)
}

func newTestRouter(t *testing.T) (*Server, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	s := newTestServer(t)
	return s, NewRouter(s)
}

func TestHandleVersion_ReturnsBareStringNoAuth(t *testing.T) {
	_, router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/version", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, Version, w.Body.String())
	assert.Equal(t, "4", w.Header().Get("Rustalink-Api-Version"))
}

func TestV4Routes_RejectMissingAuth(t *testing.T) {
	_, router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/v4/info", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 401, w.Code)
}

func TestHandleInfo_ListsConfiguredSourceManagers(t *testing.T) {
	_, router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/v4/info", nil)
	req.Header.Set("Authorization", "secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "sourceManagers")
	assert.Contains(t, w.Body.String(), "http")
}

func TestHandleLoadTracks_MissingIdentifierReturns400(t *testing.T) {
	_, router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/v4/loadtracks", nil)
	req.Header.Set("Authorization", "secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestHandleLoadTracks_UnresolvableIdentifierReturnsEmptyLoadType(t *testing.T) {
	_, router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/v4/loadtracks?identifier=youtube:abc123", nil)
	req.Header.Set("Authorization", "secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"loadType":"empty"`)
}

func TestHandleListPlayers_EmptyBySessionReturnsEmptyArray(t *testing.T) {
	_, router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/v4/sessions/sess-1/players", nil)
	req.Header.Set("Authorization", "secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestHandleUpdatePlayer_NoTransportBoundReturns400(t *testing.T) {
	_, router := newTestRouter(t)

	body := `{"track":{"identifier":"song.wav","sourceTag":"local"}}`
	req := httptest.NewRequest("PATCH", "/v4/sessions/sess-1/players/guild-1", strings.NewReader(body))
	req.Header.Set("Authorization", "secret")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestHandleUpdatePlayer_VolumeOnlyUpdateSucceedsWithoutTransport(t *testing.T) {
	_, router := newTestRouter(t)

	body := `{"volume":50}`
	req := httptest.NewRequest("PATCH", "/v4/sessions/sess-1/players/guild-1", strings.NewReader(body))
	req.Header.Set("Authorization", "secret")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"volume":50`)
}

func TestHandleDeletePlayer_RemovesPlayerFromRegistry(t *testing.T) {
	s, router := newTestRouter(t)
	s.RegistryFor("sess-1").GetOrCreate("guild-1")

	req := httptest.NewRequest("DELETE", "/v4/sessions/sess-1/players/guild-1", nil)
	req.Header.Set("Authorization", "secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 204, w.Code)
	_, ok := s.RegistryFor("sess-1").Get("guild-1")
	assert.False(t, ok)
}

func TestBindTransport_MakesTransportForAvailable(t *testing.T) {
	s := newTestServer(t)
	assert.Nil(t, s.TransportFor("guild-1"))

	s.BindTransport("guild-1", fakeTransport{})
	assert.NotNil(t, s.TransportFor("guild-1"))

	s.UnbindTransport("guild-1")
	assert.Nil(t, s.TransportFor("guild-1"))
}

type fakeTransport struct{}

func (fakeTransport) SendOpus(packet []byte) error { return nil }
