package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/codetime/internal/common"
	"github.com/dmitrijs2005/codetime/internal/ledger"
)

type healthBuild struct {
	Version string    `json:"version"`
	TS      time.Time `json:"ts"`
}

type healthWS struct {
	Active int `json:"active"`
}

type healthData struct {
	Status string      `json:"status"`
	DB     string      `json:"db"`
	Build  healthBuild `json:"build"`
	WS     healthWS    `json:"ws"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	db := "in-memory"
	if s.ledger.Backend() == ledger.BackendPostgres {
		db = "configured"
	}
	active := 0
	if s.wsActive != nil {
		active = s.wsActive()
	}
	writeOK(w, healthData{
		Status: "ok",
		DB:     db,
		Build:  healthBuild{Version: s.version, TS: s.clock.Now().UTC()},
		WS:     healthWS{Active: active},
	}, nil)
}

type summaryMeta struct {
	Range             string `json:"range"`
	TZUsed            string `json:"tzUsed"`
	ConcurrencyPolicy string `json:"concurrencyPolicy"`
}

// projectFilter returns the optional ?project= value, validated.
func projectFilter(r *http.Request) (string, error) {
	p := strings.TrimSpace(r.URL.Query().Get("project"))
	if p == "" {
		return "", nil
	}
	if err := ledger.ValidateProjectName(p); err != nil {
		return "", err
	}
	return p, nil
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	rangeName := strings.TrimSpace(r.URL.Query().Get("range"))
	project, err := projectFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sum, err := s.ledger.Summarize(r.Context(), UserID(r.Context()), rangeName, project)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, sum, summaryMeta{
		Range:             rangeName,
		TZUsed:            s.ledger.Location().String(),
		ConcurrencyPolicy: s.ledger.Policy().String(),
	})
}

func (s *Server) daily(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fromRaw, toRaw := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if fromRaw == "" || toRaw == "" {
		writeError(w, common.NewError(common.CodeValidation, "from and to are required (YYYY-MM-DD)"))
		return
	}
	from, err := ledger.ParseDate(fromRaw)
	if err != nil {
		writeError(w, common.NewError(common.CodeValidation, "invalid from date"))
		return
	}
	to, err := ledger.ParseDate(toRaw)
	if err != nil {
		writeError(w, common.NewError(common.CodeValidation, "invalid to date"))
		return
	}
	if err := ledger.ValidateSpan(from, to); err != nil {
		writeError(w, err)
		return
	}
	project, err := projectFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	series, err := s.ledger.DailyRange(r.Context(), UserID(r.Context()), from, to, project)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, series, nil)
}

func (s *Server) projects(w http.ResponseWriter, r *http.Request) {
	names, err := s.ledger.ListProjects(r.Context(), UserID(r.Context()), strings.TrimSpace(r.URL.Query().Get("range")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, names, nil)
}

type sessionData struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

// createSession exchanges a bearer credential for a session cookie.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, common.NewError(common.CodeUnavailable, "sessions are not configured"))
		return
	}
	cred := bearer(r)
	if cred == "" {
		writeError(w, common.NewError(common.CodeUnauthorized, "missing credential"))
		return
	}
	userID, err := s.ledger.ResolveUser(r.Context(), cred)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	token, expires, err := s.sessions.Issue(userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeOK(w, sessionData{ExpiresAt: expires.UTC()}, nil)
}

func (s *Server) requireTokenAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			writeError(w, common.NewError(common.CodeUnavailable, "token management requires a database"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// decodeBody reads an optional JSON body into v. An empty body is fine.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return common.NewError(common.CodeValidation, "invalid JSON body")
}

type rotateRequest struct {
	Label string `json:"label"`
}

type rotateData struct {
	ID    string `json:"id"`
	Token string `json:"token"`
	Label string `json:"label"`
}

func (s *Server) rotateToken(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	secret, tok, err := s.tokens.Rotate(r.Context(), UserID(r.Context()), req.Label)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, rotateData{ID: tok.ID, Token: secret, Label: tok.Label}, nil)
}

func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	list, err := s.tokens.List(r.Context(), UserID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, list, nil)
}

type revokeRequest struct {
	ID string `json:"id"`
}

func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, common.NewError(common.CodeValidation, "id required"))
		return
	}
	if err := s.tokens.Revoke(r.Context(), UserID(r.Context()), req.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, struct{}{}, nil)
}
