// Package heartbeat accepts editor heartbeats over a websocket and feeds
// them into the ledger.
package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dmitrijs2005/codetime/internal/common"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/logging"
	"github.com/dmitrijs2005/codetime/internal/ratelimit"
	"github.com/dmitrijs2005/codetime/internal/server/metrics"
	"github.com/getsentry/sentry-go"
)

const (
	defaultClientID = "unknown"
	writeTimeout    = 5 * time.Second
	readLimit       = 4096
)

// Message is one client heartbeat. Token, then Credential, override the
// connection's ?token= query value. Timestamp is epoch milliseconds; absent
// or non-positive means the server clock.
type Message struct {
	ProjectName string `json:"projectName"`
	Token       string `json:"token,omitempty"`
	Credential  string `json:"credential,omitempty"`
	Timestamp   *int64 `json:"timestamp,omitempty"`
}

type Ack struct {
	Accepted    bool               `json:"accepted"`
	MinuteIndex ledger.MinuteIndex `json:"minuteIndex"`
}

type reply struct {
	OK      bool        `json:"ok"`
	Data    *Ack        `json:"data,omitempty"`
	Code    common.Code `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

type Options struct {
	Ledger  ledger.Ledger
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	Clock   quartz.Clock
	MaxSkew time.Duration
	Logger  logging.Logger
}

type Handler struct {
	ledger  ledger.Ledger
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	clock   quartz.Clock
	maxSkew time.Duration
	logger  logging.Logger
	active  atomic.Int64
}

func NewHandler(o Options) *Handler {
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	if o.Logger == nil {
		o.Logger = logging.Nop{}
	}
	if o.Limiter == nil {
		o.Limiter = ratelimit.New(o.Clock, nil)
	}
	return &Handler{
		ledger:  o.Ledger,
		limiter: o.Limiter,
		metrics: o.Metrics,
		clock:   o.Clock,
		maxSkew: o.MaxSkew,
		logger:  o.Logger.With("module", "heartbeat"),
	}
}

// Active returns the number of open connections.
func (h *Handler) Active() int {
	return int(h.active.Load())
}

func (h *Handler) connected(delta int64) {
	h.active.Add(delta)
	if h.metrics != nil {
		h.metrics.WSActive.Add(float64(delta))
	}
}

// session is the per-connection state.
type session struct {
	conn     *websocket.Conn
	token    string
	clientID string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), "websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")
	conn.SetReadLimit(readLimit)

	q := r.URL.Query()
	s := &session{conn: conn, token: q.Get("token"), clientID: q.Get("clientId")}
	if s.clientID == "" {
		s.clientID = defaultClientID
	}

	h.connected(1)
	defer h.connected(-1)

	ctx := r.Context()
	h.logger.Debug(ctx, "client connected", "client_id", s.clientID)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug(ctx, "read failed", "client_id", s.clientID, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if !h.handle(ctx, s, data) {
			return
		}
	}
}

// handle processes one message and reports whether the connection stays
// open.
func (h *Handler) handle(ctx context.Context, s *session, data []byte) bool {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return h.send(ctx, s, errReply(common.NewError(common.CodeInvalidJSON, "payload must be JSON")))
	}
	if err := ledger.ValidateProjectName(msg.ProjectName); err != nil {
		return h.send(ctx, s, errReply(err))
	}

	cred := strings.TrimSpace(msg.Token)
	if cred == "" {
		cred = strings.TrimSpace(msg.Credential)
	}
	if cred == "" {
		cred = s.token
	}

	if err := h.limiter.Allow(cred, ratelimit.ChannelHeartbeat); err != nil {
		return h.send(ctx, s, errReply(common.NewError(common.CodeRateLimited, "too many heartbeats")))
	}

	// resolved on every message: the credential may differ per message
	// and may have been revoked since the last one
	userID, err := h.ledger.ResolveUser(ctx, cred)
	if err != nil {
		if common.CodeOf(err) != common.CodeUnauthorized {
			h.report(ctx, s, err)
			return h.send(ctx, s, errReply(err))
		}
		h.send(ctx, s, errReply(common.NewError(common.CodeUnauthorized, "invalid token")))
		_ = s.conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return false
	}

	now := h.clock.Now()
	ts := now
	if msg.Timestamp != nil && *msg.Timestamp > 0 {
		ts = time.UnixMilli(*msg.Timestamp)
		if h.maxSkew > 0 && ts.After(now.Add(h.maxSkew)) {
			return h.send(ctx, s, errReply(common.NewError(common.CodeInvalidPayload, "timestamp is in the future")))
		}
	}
	minute := ledger.MinuteOf(ts)

	counted, err := h.ledger.AddMinute(ctx, userID, msg.ProjectName, minute)
	if err != nil {
		h.report(ctx, s, err)
		return h.send(ctx, s, errReply(err))
	}
	if h.metrics != nil {
		h.metrics.Heartbeat(counted)
	}
	return h.send(ctx, s, reply{OK: true, Data: &Ack{Accepted: counted, MinuteIndex: minute}})
}

func (h *Handler) report(ctx context.Context, s *session, err error) {
	if common.CodeOf(err) != common.CodeInternal {
		return
	}
	h.logger.Error(ctx, "heartbeat failed", "client_id", s.clientID, "error", err)
	sentry.CaptureException(err)
}

func (h *Handler) send(ctx context.Context, s *session, v reply) bool {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, s.conn, v); err != nil {
		h.logger.Debug(ctx, "write failed", "client_id", s.clientID, "error", err)
		return false
	}
	return true
}

func errReply(err error) reply {
	return reply{Code: common.CodeOf(err), Message: common.MessageOf(err)}
}
