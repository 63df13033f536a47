package api

import (
	"encoding/json"
	"net/http"

	"github.com/dmitrijs2005/codetime/internal/common"
)

type okBody struct {
	OK   bool `json:"ok"`
	Data any  `json:"data"`
	Meta any  `json:"meta,omitempty"`
}

type errBody struct {
	OK      bool        `json:"ok"`
	Code    common.Code `json:"code"`
	Message string      `json:"message"`
}

// StatusOf maps an error code to its HTTP status.
func StatusOf(code common.Code) int {
	switch code {
	case common.CodeValidation, common.CodeInvalidPayload, common.CodeInvalidJSON:
		return http.StatusBadRequest
	case common.CodeUnauthorized:
		return http.StatusUnauthorized
	case common.CodeRateLimited:
		return http.StatusTooManyRequests
	case common.CodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data, meta any) {
	writeJSON(w, http.StatusOK, okBody{OK: true, Data: data, Meta: meta})
}

// writeError writes the failure envelope. Only the caller-safe message of
// err is exposed.
func writeError(w http.ResponseWriter, err error) {
	code := common.CodeOf(err)
	writeJSON(w, StatusOf(code), errBody{Code: code, Message: common.MessageOf(err)})
}
