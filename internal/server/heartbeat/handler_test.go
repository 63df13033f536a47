package heartbeat

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dmitrijs2005/codetime/internal/common"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/ratelimit"
	"github.com/dmitrijs2005/codetime/internal/server/metrics"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

type fixture struct {
	h       *Handler
	ledger  *ledger.Memory
	metrics *metrics.Metrics
	url     string
}

// knownCredentials accepts only the listed credentials; revoke takes one
// away while connections stay open.
type knownCredentials struct {
	*ledger.Memory
	mu    sync.Mutex
	valid map[string]bool
}

func (k *knownCredentials) ResolveUser(ctx context.Context, credential string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.valid[credential] {
		return "", common.ErrorUnauthorized
	}
	return k.Memory.ResolveUser(ctx, credential)
}

func (k *knownCredentials) revoke(credential string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.valid, credential)
}

func newFixture(t *testing.T, limits ratelimit.Limits) *fixture {
	t.Helper()
	return newFixtureWith(t, limits, nil)
}

// newFixtureWith serves wrap(memory) when wrap is set.
func newFixtureWith(t *testing.T, limits ratelimit.Limits, wrap func(*ledger.Memory) ledger.Ledger) *fixture {
	t.Helper()
	clk := quartz.NewMock(t)
	clk.Set(testNow)
	l := ledger.NewMemory(ledger.Options{Clock: clk, Location: time.UTC})
	m := metrics.New(prometheus.NewRegistry())

	var served ledger.Ledger = l
	if wrap != nil {
		served = wrap(l)
	}

	h := NewHandler(Options{
		Ledger:  served,
		Limiter: ratelimit.New(clk, limits),
		Metrics: m,
		Clock:   clk,
		MaxSkew: 10 * time.Minute,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &fixture{h: h, ledger: l, metrics: m, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, f.url+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s, ok := msg.(string); ok {
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(s)))
	} else {
		require.NoError(t, wsjson.Write(ctx, conn, msg))
	}
	var out map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &out))
	return out
}

func TestHeartbeat_CountsOnce(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "?token=alice&clientId=vscode")

	first := roundTrip(t, conn, Message{ProjectName: "demo"})
	assert.Equal(t, true, first["ok"])
	data := first["data"].(map[string]any)
	assert.Equal(t, true, data["accepted"])
	assert.Equal(t, float64(ledger.MinuteOf(testNow)), data["minuteIndex"])

	second := roundTrip(t, conn, Message{ProjectName: "demo"})
	assert.Equal(t, true, second["ok"])
	assert.Equal(t, false, second["data"].(map[string]any)["accepted"])

	s, err := f.ledger.Summarize(context.Background(), "alice", ledger.RangeToday, "")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalMinutes)

	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.WSHeartbeats.WithLabelValues("true")))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.WSHeartbeats.WithLabelValues("false")))
	assert.Equal(t, 1, f.h.Active())
}

func TestHeartbeat_ExplicitTimestamp(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "?token=alice")

	earlier := testNow.Add(-2 * time.Hour).UnixMilli()
	out := roundTrip(t, conn, Message{ProjectName: "demo", Timestamp: &earlier})
	assert.Equal(t, float64(ledger.MinuteFromMillis(earlier)), out["data"].(map[string]any)["minuteIndex"])

	future := testNow.Add(time.Hour).UnixMilli()
	out = roundTrip(t, conn, Message{ProjectName: "demo", Timestamp: &future})
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, string(common.CodeInvalidPayload), out["code"])
}

func TestHeartbeat_ErrorsKeepConnectionOpen(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "?token=alice")

	out := roundTrip(t, conn, "{not json")
	assert.Equal(t, string(common.CodeInvalidJSON), out["code"])

	out = roundTrip(t, conn, Message{ProjectName: "bad name"})
	assert.Equal(t, string(common.CodeInvalidPayload), out["code"])
	assert.Equal(t, "invalid projectName", out["message"])

	out = roundTrip(t, conn, Message{ProjectName: "ok"})
	assert.Equal(t, true, out["ok"])
}

func TestHeartbeat_MessageTokenOverridesQuery(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "")

	out := roundTrip(t, conn, Message{ProjectName: "demo", Token: "bob"})
	require.Equal(t, true, out["ok"])

	names, err := f.ledger.ListProjects(context.Background(), "bob", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, names)
}

func TestHeartbeat_UnauthorizedCloses(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "")

	out := roundTrip(t, conn, Message{ProjectName: "demo"})
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, string(common.CodeUnauthorized), out["code"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestHeartbeat_RateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{ratelimit.ChannelHeartbeat: 2})
	conn := f.dial(t, "?token=alice")

	for i := 0; i < 2; i++ {
		out := roundTrip(t, conn, Message{ProjectName: "demo"})
		require.Equal(t, true, out["ok"], "heartbeat %d", i)
	}
	out := roundTrip(t, conn, Message{ProjectName: "demo"})
	assert.Equal(t, string(common.CodeRateLimited), out["code"])
	assert.Equal(t, "too many heartbeats", out["message"])
}

func TestHeartbeat_ActiveGauge(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "?token=alice")
	roundTrip(t, conn, Message{ProjectName: "demo"})
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.WSActive))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return f.h.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, promtest.ToFloat64(f.metrics.WSActive))
}

func (f *fixture) total(t *testing.T, userID string) int {
	t.Helper()
	s, err := f.ledger.Summarize(context.Background(), userID, ledger.RangeToday, "")
	require.NoError(t, err)
	return s.TotalMinutes
}

func TestHeartbeat_NonPositiveTimestampUsesServerClock(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "?token=alice")

	for _, ts := range []int64{0, -60000} {
		ts := ts
		out := roundTrip(t, conn, Message{ProjectName: "demo", Timestamp: &ts})
		require.Equal(t, true, out["ok"])
		assert.Equal(t, float64(ledger.MinuteOf(testNow)), out["data"].(map[string]any)["minuteIndex"])
	}
	assert.Equal(t, 1, f.total(t, "alice"))
}

func TestHeartbeat_MessageTokenIsCreditedToItsOwner(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "?token=alice")

	out := roundTrip(t, conn, Message{ProjectName: "demo"})
	require.Equal(t, true, out["ok"])

	out = roundTrip(t, conn, Message{ProjectName: "demo", Token: "bob"})
	require.Equal(t, true, out["ok"])
	assert.Equal(t, true, out["data"].(map[string]any)["accepted"])

	assert.Equal(t, 1, f.total(t, "alice"))
	assert.Equal(t, 1, f.total(t, "bob"))
}

func TestHeartbeat_TokenWinsOverCredential(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "?token=alice")

	roundTrip(t, conn, Message{ProjectName: "demo", Token: "bob", Credential: "carol"})
	roundTrip(t, conn, Message{ProjectName: "other", Credential: "carol"})

	assert.Equal(t, 0, f.total(t, "alice"))
	assert.Equal(t, 1, f.total(t, "bob"))
	assert.Equal(t, 1, f.total(t, "carol"))
}

func TestHeartbeat_RevokedMidConnection(t *testing.T) {
	var creds *knownCredentials
	f := newFixtureWith(t, nil, func(m *ledger.Memory) ledger.Ledger {
		creds = &knownCredentials{Memory: m, valid: map[string]bool{"alice": true}}
		return creds
	})
	conn := f.dial(t, "?token=alice")

	out := roundTrip(t, conn, Message{ProjectName: "demo"})
	require.Equal(t, true, out["ok"])

	creds.revoke("alice")

	later := testNow.Add(-time.Minute).UnixMilli()
	out = roundTrip(t, conn, Message{ProjectName: "demo", Timestamp: &later})
	assert.Equal(t, string(common.CodeUnauthorized), out["code"])
	assert.Equal(t, 1, f.total(t, "alice"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestHeartbeat_RotatingTokensDoNotEscapeLimit(t *testing.T) {
	f := newFixtureWith(t, ratelimit.Limits{ratelimit.ChannelHeartbeat: 1}, func(m *ledger.Memory) ledger.Ledger {
		return &knownCredentials{Memory: m, valid: map[string]bool{"alice": true}}
	})
	conn := f.dial(t, "?token=alice")

	out := roundTrip(t, conn, Message{ProjectName: "demo"})
	require.Equal(t, true, out["ok"])

	out = roundTrip(t, conn, Message{ProjectName: "demo"})
	assert.Equal(t, string(common.CodeRateLimited), out["code"])

	// a fresh token gets its own window but must still resolve, and
	// nothing it sends lands on alice
	earlier := testNow.Add(-5 * time.Minute).UnixMilli()
	out = roundTrip(t, conn, Message{ProjectName: "demo", Token: "random-1", Timestamp: &earlier})
	assert.Equal(t, string(common.CodeUnauthorized), out["code"])
	assert.Equal(t, 1, f.total(t, "alice"))
}
