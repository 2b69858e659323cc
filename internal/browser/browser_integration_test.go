//go:build integration
package browser_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"challengeflow/internal/browser"
	"challengeflow/internal/challenge"
	"challengeflow/internal/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const challengePage = `
<html>
<body style="margin:0">
	<div aria-label="Let's verify you're a human" style="width:430px;height:900px">
		<button id="verify" style="position:absolute;left:150px;top:480px;width:120px;height:44px"
			onclick="document.title='verified'">Verify</button>
	</div>
</body>
</html>
`

func startSession(t *testing.T, url string) (*browser.SessionManager, *browser.Page) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Browser.Headless = true
	cfg.Browser.StartURL = url

	sm := browser.NewSessionManager(cfg.Browser, cfg.Layout, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	t.Cleanup(func() {
		if err := sm.Shutdown(); err != nil {
			t.Logf("Shutdown error: %v", err)
		}
	})

	require.NoError(t, sm.Start(ctx), "Failed to start browser")
	page, err := sm.Open(ctx)
	require.NoError(t, err, "Failed to open page")
	return sm, page
}

func TestPage_PresenceAndTap_Integration(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintln(w, challengePage)
	}))
	defer ts.Close()

	_, page := startSession(t, ts.URL)
	ctx := context.Background()
	selector := config.DefaultConfig().Layout.PresenceSelector

	present, err := page.ElementPresent(ctx, selector)
	require.NoError(t, err)
	require.True(t, present)

	missing, err := page.ElementPresent(ctx, "#no-such-element")
	require.NoError(t, err)
	require.False(t, missing)

	// The default verify coordinate (209,502) lands inside the button.
	require.NoError(t, page.Tap(ctx, challenge.VerifyButton))
}

func TestPage_Screenshot_Integration(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintln(w, challengePage)
	}))
	defer ts.Close()

	_, page := startSession(t, ts.URL)

	data, err := page.Screenshot(context.Background())
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 430, img.Bounds().Dx())
}
