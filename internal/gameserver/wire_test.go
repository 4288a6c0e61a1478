package gameserver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sionline/internal/events"
	"github.com/jason-s-yu/sionline/internal/models"
)

func TestEnvelopeToEvent(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		frame   string
		wantErr bool
		check   func(t *testing.T, ev events.Event)
	}{
		{
			name:  "created",
			frame: `{"type":"game_created","game":{"gameId":7,"gameName":"Quiz","startTime":"2024-03-01T12:00:00Z"}}`,
			check: func(t *testing.T, ev events.Event) {
				require.NotNil(t, ev.Game)
				assert.Equal(t, 7, ev.Game.ID)
				assert.Equal(t, time.Local, ev.Game.StartTime.Location())
				assert.True(t, ev.Game.StartTime.Equal(start))
				assert.True(t, ev.Game.RealStartTime.IsZero())
			},
		},
		{name: "changed without game", frame: `{"type":"game_changed"}`, wantErr: true},
		{
			name:  "deleted",
			frame: `{"type":"game_deleted","gameId":3}`,
			check: func(t *testing.T, ev events.Event) { assert.Equal(t, 3, ev.GameID) },
		},
		{
			name:  "user joined",
			frame: `{"type":"user_joined","userName":"ann"}`,
			check: func(t *testing.T, ev events.Event) { assert.Equal(t, "ann", ev.UserName) },
		},
		{name: "user left without name", frame: `{"type":"user_left"}`, wantErr: true},
		{
			name:  "message",
			frame: `{"type":"message","from":"bob","text":"hi"}`,
			check: func(t *testing.T, ev events.Event) {
				assert.Equal(t, "bob", ev.From)
				assert.Equal(t, "hi", ev.Text)
				assert.False(t, ev.Timestamp.IsZero())
			},
		},
		{name: "unknown", frame: `{"type":"weather"}`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var env Envelope
			require.NoError(t, json.Unmarshal([]byte(tc.frame), &env))
			ev, err := env.ToEvent()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, env.Type, ev.Kind)
			tc.check(t, ev)
		})
	}
}

func TestLocalizeKeepsZeroTimes(t *testing.T) {
	g := Localize(models.GameRecord{ID: 1})
	assert.True(t, g.StartTime.IsZero())
	assert.True(t, g.RealStartTime.IsZero())
}
