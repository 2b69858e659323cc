package browser

import (
	"testing"

	"challengeflow/internal/challenge"
	"challengeflow/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointFor(t *testing.T) {
	layout := config.DefaultConfig().Layout

	tests := []struct {
		name string
		pos  challenge.Position
		want config.Point
	}{
		{name: "verify", pos: challenge.VerifyButton, want: config.Point{X: 209, Y: 502}},
		{name: "try again", pos: challenge.TryAgainButton, want: config.Point{X: 212, Y: 554}},
		{name: "refresh", pos: challenge.RefreshButton, want: config.Point{X: 302, Y: 602}},
		{name: "first cell", pos: challenge.Cell(1), want: layout.Cells[0]},
		{name: "last cell", pos: challenge.Cell(6), want: layout.Cells[5]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PointFor(layout, tt.pos)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPointFor_CellOutsideLayout(t *testing.T) {
	layout := config.DefaultConfig().Layout
	for _, cell := range []int{0, 7, -1} {
		_, err := PointFor(layout, challenge.Cell(cell))
		assert.Error(t, err, "cell %d", cell)
	}
}

func TestSessionManager_OpenBeforeStart(t *testing.T) {
	cfg := config.DefaultConfig()
	m := NewSessionManager(cfg.Browser, cfg.Layout, nil)
	_, err := m.Open(t.Context())
	assert.EqualError(t, err, "browser not connected")
	assert.NoError(t, m.Shutdown())
	assert.Empty(t, m.ControlURL())
}

func TestActionTimeout(t *testing.T) {
	m := NewSessionManager(config.BrowserConfig{ActionTimeout: "2s"}, config.LayoutConfig{}, nil)
	assert.Equal(t, "2s", m.actionTimeout().String())
	m = NewSessionManager(config.BrowserConfig{ActionTimeout: "nonsense"}, config.LayoutConfig{}, nil)
	assert.Equal(t, "15s", m.actionTimeout().String())
}
