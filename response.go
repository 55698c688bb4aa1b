package oauthd

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dpup/oauthd/errors"
	"github.com/dpup/oauthd/logging"
)

// TokenResponse is the JSON body of a successful token grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ErrorResponse is the JSON body of a failed request. Description is omitted
// for 401 responses so token validity can't be probed through error detail.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// taxonomy is the closed set of errors that may cross the wire. Anything
// else is reported as server_error.
var taxonomy = []*errors.Error{
	ErrInvalidRequest,
	ErrInvalidClient,
	ErrInvalidGrant,
	ErrInvalidScope,
	ErrUnsupportedGrantType,
	ErrUnauthorizedClient,
	ErrAccessDenied,
	ErrInvalidToken,
	ErrInsufficientScope,
	ErrServerError,
}

// WireError maps any error onto the taxonomy: HTTP status, wire code, and
// human-readable description. Unrecognized errors become server_error with no
// detail.
func WireError(err error) (status int, code string, description string) {
	for _, t := range taxonomy {
		if errors.Is(err, t) {
			status = t.HTTPStatusCode()
			code = t.Error()
			if e, ok := err.(*errors.Error); ok && e.PublicMessage() != code {
				description = e.PublicMessage()
			}
			// 401-class bodies carry the code alone.
			if status == http.StatusUnauthorized {
				description = ""
			}
			return status, code, description
		}
	}
	return http.StatusInternalServerError, ErrServerError.Error(), ""
}

// WriteToken writes a successful token grant. Token responses are
// uncacheable per RFC 6749 §5.1.
func (s *Server) WriteToken(w http.ResponseWriter, grant *Grant) {
	resp := TokenResponse{
		AccessToken: grant.AccessToken.Token,
		TokenType:   "bearer",
		ExpiresIn:   int64(grant.AccessToken.ExpiresAt.Sub(s.now()) / time.Second),
		Scope:       grant.AccessToken.Scope,
	}
	if grant.RefreshToken != nil {
		resp.RefreshToken = grant.RefreshToken.Token
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

// WriteError writes an error response per the taxonomy mapping, logging
// server-class failures with their stack.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, description := WireError(err)

	if status >= http.StatusInternalServerError {
		logging.Errorw(r.Context(), "request failed", "error", err,
			"req.method", r.Method, "req.url", r.URL.String())
	} else {
		logging.Warnw(r.Context(), "request rejected", "error", err,
			"oauth.code", code, "req.method", r.Method, "req.url", r.URL.String())
	}

	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`"`)
	case http.StatusForbidden:
		w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+description+`"`)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "error encoding response", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	w.Write(b)
}
