package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiredm/internal/auth"
	"github.com/vovakirdan/wiredm/internal/client"
	"github.com/vovakirdan/wiredm/internal/config"
	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/media"
	"github.com/vovakirdan/wiredm/internal/metrics"
	"github.com/vovakirdan/wiredm/internal/service/messages"
	"github.com/vovakirdan/wiredm/internal/store/sqlite"
)

type testEnv struct {
	ts  *httptest.Server
	cfg config.Config
	hub *core.Hub
}

// startTestServer wires the full stack on an in-memory database.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = "test-secret"
	cfg.UploadDir = t.TempDir()
	cfg.MaxImageBytes = 1 << 16
	cfg.SendRatePerSecond = 1000
	cfg.SendRateBurst = 1000
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	require.NoError(t, err)

	disabledLogger := zerolog.New(nil).Level(zerolog.Disabled)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})
	hub := core.NewHub(st, &disabledLogger, core.WithMetrics(m))
	svc := messages.New(st, hub, hub.Presence(), &disabledLogger, messages.Options{
		MaxMessageBytes: cfg.MaxMessageBytes,
		Metrics:         m,
	})
	mediaStore, err := media.New(cfg.UploadDir, cfg.MaxImageBytes)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := NewServer(Deps{
		Hub:      hub,
		Auth:     authService,
		Messages: svc,
		Media:    mediaStore,
		Gatherer: reg,
	}, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)

	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-hub.Done()
		_ = st.Close()
	})
	return &testEnv{ts: ts, cfg: cfg, hub: hub}
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

// register creates an account and returns an authenticated API client.
func (e *testEnv) register(t *testing.T, username string) *client.API {
	t.Helper()

	api := client.NewAPI(e.ts.URL, e.ts.Client())
	require.NoError(t, api.Register(testCtx(t), username, "", "password123"))
	require.NotZero(t, api.UserID())
	return api
}

// dial opens an authenticated channel and waits until the hub lists the user as online.
func (e *testEnv) dial(t *testing.T, api *client.API) *client.Conn {
	t.Helper()

	conn, err := client.Dial(testCtx(t), e.wsURL(), api.Token())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	for {
		ev := nextEvent(t, conn)
		if ev.Kind == core.EventPresenceChanged && containsID(ev.OnlineUserIDs, api.UserID()) {
			return conn
		}
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func nextEvent(t *testing.T, conn *client.Conn) *core.Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ev, err := conn.Next(ctx)
	require.NoError(t, err)
	return ev
}

// nextOfKind skips events until one of kind arrives. Presence updates interleave freely.
func nextOfKind(t *testing.T, conn *client.Conn, kind core.EventKind) *core.Event {
	t.Helper()

	for {
		ev := nextEvent(t, conn)
		if ev.Kind == kind {
			return ev
		}
		require.Equal(t, core.EventPresenceChanged, ev.Kind, "unexpected %s while waiting for %s", ev.Kind, kind)
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
