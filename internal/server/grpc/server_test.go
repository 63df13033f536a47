package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/logging"
	"github.com/dmitrijs2005/codetime/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

var testNow = time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

type nopLogger struct{}

func (n nopLogger) Debug(context.Context, string, ...any) {}
func (n nopLogger) Info(context.Context, string, ...any)  {}
func (n nopLogger) Warn(context.Context, string, ...any)  {}
func (n nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger            { return n }

type fixture struct {
	ledger *ledger.Memory
	conn   *grpc.ClientConn
}

func newFixture(t *testing.T, limits ratelimit.Limits) *fixture {
	t.Helper()
	clk := quartz.NewMock(t)
	clk.Set(testNow)
	l := ledger.NewMemory(ledger.Options{Clock: clk, Location: time.UTC})
	s := NewGRPCServer("", nopLogger{}, l, ratelimit.New(clk, limits), clk, 10*time.Minute)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-done
	})
	return &fixture{ledger: l, conn: conn}
}

func (f *fixture) call(t *testing.T, method, token string, req map[string]any) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "access_token", token)
	}
	out := new(structpb.Struct)
	err = f.conn.Invoke(ctx, method, in, out)
	return out, err
}

func TestHeartbeatAndSummary(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.call(t, MethodHeartbeat, "alice", map[string]any{"projectName": "demo"})
	require.NoError(t, err)
	assert.True(t, out.GetFields()["accepted"].GetBoolValue())
	assert.Equal(t, float64(ledger.MinuteOf(testNow)), out.GetFields()["minuteIndex"].GetNumberValue())

	out, err = f.call(t, MethodHeartbeat, "alice", map[string]any{"projectName": "demo"})
	require.NoError(t, err)
	assert.False(t, out.GetFields()["accepted"].GetBoolValue())

	ts := float64(testNow.Add(-time.Minute).UnixMilli())
	_, err = f.call(t, MethodHeartbeat, "alice", map[string]any{"projectName": "demo", "timestamp": ts})
	require.NoError(t, err)

	out, err = f.call(t, MethodSummary, "alice", map[string]any{"range": "today"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, out.GetFields()["totalMinutes"].GetNumberValue())
	byProject := out.GetFields()["byProject"].GetListValue().GetValues()
	require.Len(t, byProject, 1)
	assert.Equal(t, "demo", byProject[0].GetStructValue().GetFields()["project"].GetStringValue())
}

func TestDailyRangeAndProjects(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.call(t, MethodDailyRange, "alice", map[string]any{"from": "2024-01-01", "to": "2024-01-03"})
	require.NoError(t, err)
	assert.Len(t, out.GetFields()["series"].GetListValue().GetValues(), 3)

	_, err = f.call(t, MethodHeartbeat, "alice", map[string]any{"projectName": "b"})
	require.NoError(t, err)
	out, err = f.call(t, MethodListProjects, "alice", map[string]any{})
	require.NoError(t, err)
	names := out.GetFields()["projects"].GetListValue().GetValues()
	require.Len(t, names, 1)
	assert.Equal(t, "b", names[0].GetStringValue())
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		method string
		token  string
		req    map[string]any
		code   codes.Code
	}{
		{"missing token", MethodSummary, "", map[string]any{"range": "today"}, codes.Unauthenticated},
		{"bad project", MethodHeartbeat, "alice", map[string]any{"projectName": "a b"}, codes.InvalidArgument},
		{"future timestamp", MethodHeartbeat, "alice", map[string]any{"projectName": "a", "timestamp": float64(testNow.Add(time.Hour).UnixMilli())}, codes.InvalidArgument},
		{"string timestamp", MethodHeartbeat, "alice", map[string]any{"projectName": "a", "timestamp": "now"}, codes.InvalidArgument},
		{"unknown range", MethodSummary, "alice", map[string]any{"range": "bogus"}, codes.InvalidArgument},
		{"bad date", MethodDailyRange, "alice", map[string]any{"from": "x", "to": "2024-01-01"}, codes.InvalidArgument},
		{"span too long", MethodDailyRange, "alice", map[string]any{"from": "0001-01-01", "to": "9999-12-31"}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.call(t, tt.method, tt.token, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestHeartbeatRateLimit(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{ratelimit.ChannelHeartbeat: 1})

	_, err := f.call(t, MethodHeartbeat, "alice", map[string]any{"projectName": "demo"})
	require.NoError(t, err)
	_, err = f.call(t, MethodHeartbeat, "alice", map[string]any{"projectName": "demo"})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// queries use the request channel, which is unlimited here
	_, err = f.call(t, MethodListProjects, "alice", map[string]any{})
	assert.NoError(t, err)
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	srv := NewGRPCServer("127.0.0.1:99999", nopLogger{}, ledger.NewMemory(ledger.Options{}), nil, nil, 0)

	err := srv.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	srv := NewGRPCServer("127.0.0.1:0", nopLogger{}, ledger.NewMemory(ledger.Options{}), nil, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestDailyRange_SpanCap(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.call(t, MethodDailyRange, "alice", map[string]any{"from": "2024-01-01", "to": "2024-12-31"})
	require.NoError(t, err)
	assert.Len(t, out.GetFields()["series"].GetListValue().GetValues(), 366)

	_, err = f.call(t, MethodDailyRange, "alice", map[string]any{"from": "2024-01-01", "to": "2025-01-01"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, "range too long", status.Convert(err).Message())
}

func TestHeartbeat_NonPositiveTimestampUsesServerClock(t *testing.T) {
	f := newFixture(t, nil)

	for _, ts := range []float64{0, -60000} {
		out, err := f.call(t, MethodHeartbeat, "alice", map[string]any{"projectName": "demo", "timestamp": ts})
		require.NoError(t, err)
		assert.Equal(t, float64(ledger.MinuteOf(testNow)), out.GetFields()["minuteIndex"].GetNumberValue())
	}

	got, err := f.ledger.DailyRange(context.Background(), "alice", ledger.DateOf(testNow), ledger.DateOf(testNow), "")
	require.NoError(t, err)
	require.Len(t, got.Series, 1)
	assert.Equal(t, 1, got.Series[0].Minutes)
}
