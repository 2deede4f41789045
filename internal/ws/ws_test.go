package ws

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustalink/server/internal/config"
	"github.com/rustalink/server/internal/player"
	"github.com/rustalink/server/internal/plugins"
	"github.com/rustalink/server/internal/resolve"
	"github.com/rustalink/server/internal/rest"
)

func newTestServer() *rest.Server {
	cfg := &config.AppConfig{}
	manager := player.NewManager(cfg, nil, resolve.NewRegistry(), plugins.NewLoader())
	return rest.NewServer(cfg, nil, resolve.NewRegistry(), nil, plugins.NewLoader(), manager, nil, nil)
}

func TestHandler_RejectsMissingUserIDHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/", Handler(newTestServer(), nil))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestOutboundEnvelope_ReadyMarshalsExpectedShape(t *testing.T) {
	env := outboundEnvelope{Op: OpReady, Data: readyPayload{Resumed: true, SessionID: "tok-123"}}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "ready", decoded["op"])
	data := decoded["data"].(map[string]interface{})
	assert.Equal(t, true, data["resumed"])
	assert.Equal(t, "tok-123", data["sessionId"])
}

func TestOutboundEnvelope_EventMarshalsTrackEndReason(t *testing.T) {
	env := outboundEnvelope{Op: OpEvent, Data: eventPayload{
		Type:    EventTrackEnd,
		GuildID: "guild-1",
		Reason:  ReasonFinished,
	}}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	data := decoded["data"].(map[string]interface{})
	assert.Equal(t, "TrackEnd", data["type"])
	assert.Equal(t, "finished", data["reason"])
	assert.Nil(t, data["exception"])
}

func TestInboundEnvelope_DecodesPlayPayload(t *testing.T) {
	raw := []byte(`{"op":"play","guildId":"guild-1","track":{"identifier":"abc","sourceTag":"local"}}`)
	var data playData
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, "guild-1", data.GuildID)
	assert.Equal(t, "abc", data.Track.Identifier)
	assert.Equal(t, "local", data.Track.SourceTag)
}
