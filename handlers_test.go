package oauthd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// testOwner authenticates the resource owner from test-only headers.
func testOwner(r *http.Request) (string, bool, error) {
	return r.Header.Get("X-Owner"), r.Header.Get("X-Approve") != "false", nil
}

func newTestHTTPServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s, _ := testServer(t, opts...)

	mux := http.NewServeMux()
	mux.Handle("/", s.Handler(testOwner))
	mux.Handle("/api/account", s.Authenticate(s.RequireScope("account")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			writeJSON(w, http.StatusOK, map[string]string{"user": id.User.ID})
		}))))
	mux.Handle("/api/edit", s.Authenticate(s.RequireScope("edit")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))))

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func postToken(t *testing.T, ts *httptest.Server, form url.Values) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.PostForm(ts.URL+"/oauth/token", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	return resp, decoded
}

func TestTokenEndpoint(t *testing.T) {
	_, ts := newTestHTTPServer(t)

	t.Run("PasswordGrant", func(t *testing.T) {
		resp, body := postToken(t, ts, url.Values{
			"grant_type":    {"password"},
			"client_id":     {"c1"},
			"client_secret": {"s1"},
			"username":      {"u"},
			"password":      {"p"},
			"scope":         {"account bogus"},
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
		assert.Equal(t, "no-cache", resp.Header.Get("Pragma"))
		assert.Equal(t, "bearer", body["token_type"])
		assert.NotEmpty(t, body["access_token"])
		assert.NotEmpty(t, body["refresh_token"])
		assert.Equal(t, "account", body["scope"])
		assert.InDelta(t, 3600, body["expires_in"], 5)
	})

	t.Run("BasicAuthClientCredentials", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/oauth/token",
			strings.NewReader(url.Values{"grant_type": {"client_credentials"}}.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth("c1", "s1")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("BadSecretIs400", func(t *testing.T) {
		resp, body := postToken(t, ts, url.Values{
			"grant_type":    {"password"},
			"client_id":     {"c1"},
			"client_secret": {"wrong"},
			"username":      {"u"},
			"password":      {"p"},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_client", body["error"])
		assert.NotEmpty(t, body["error_description"])
	})

	t.Run("ConsumedCodeIs400InvalidGrant", func(t *testing.T) {
		code := fetchAuthCode(t, ts, "account")
		form := url.Values{
			"grant_type":    {"authorization_code"},
			"client_id":     {"c1"},
			"client_secret": {"s1"},
			"code":          {code},
			"redirect_uri":  {"https://app.example.com/callback"},
		}
		resp, _ := postToken(t, ts, form)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := postToken(t, ts, form)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_grant", body["error"])
	})

	t.Run("GetIsRejected", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/oauth/token")
		require.NoError(t, err)
		resp.Body.Close()
		// chi only mounts the POST method on this path.
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

// fetchAuthCode drives the authorize endpoint as a browser would and returns
// the code from the redirect.
func fetchAuthCode(t *testing.T, ts *httptest.Server, scope string) string {
	t.Helper()
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {"c1"},
		"redirect_uri":  {"https://app.example.com/callback"},
		"scope":         {scope},
		"state":         {"st4te"},
	}
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/oauth/authorize?"+q.Encode(), nil)
	require.NoError(t, err)
	req.Header.Set("X-Owner", "u1")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Equal(t, "st4te", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestAuthorizeEndpoint(t *testing.T) {
	_, ts := newTestHTTPServer(t)

	noRedirect := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	t.Run("DenialRedirectsWithAccessDenied", func(t *testing.T) {
		q := url.Values{
			"response_type": {"code"},
			"client_id":     {"c1"},
			"redirect_uri":  {"https://app.example.com/callback"},
			"state":         {"s"},
		}
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/oauth/authorize?"+q.Encode(), nil)
		require.NoError(t, err)
		req.Header.Set("X-Owner", "u1")
		req.Header.Set("X-Approve", "false")

		resp, err := noRedirect.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)

		loc, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "access_denied", loc.Query().Get("error"))
		assert.Equal(t, "s", loc.Query().Get("state"))
		assert.Empty(t, loc.Query().Get("code"))
	})

	t.Run("BadRedirectURIStaysOnServer", func(t *testing.T) {
		q := url.Values{
			"response_type": {"code"},
			"client_id":     {"c1"},
			"redirect_uri":  {"https://evil.example.com/cb"},
		}
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/oauth/authorize?"+q.Encode(), nil)
		require.NoError(t, err)
		req.Header.Set("X-Owner", "u1")

		resp, err := noRedirect.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("InvalidScopeRedirectsToClient", func(t *testing.T) {
		q := url.Values{
			"response_type": {"code"},
			"client_id":     {"c1"},
			"redirect_uri":  {"https://app.example.com/callback"},
			"scope":         {"bogus"},
		}
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/oauth/authorize?"+q.Encode(), nil)
		require.NoError(t, err)
		req.Header.Set("X-Owner", "u1")

		resp, err := noRedirect.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)

		loc, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "invalid_scope", loc.Query().Get("error"))
	})
}

func TestProtectedRoutes(t *testing.T) {
	_, ts := newTestHTTPServer(t)

	token := func(t *testing.T, scope string) string {
		_, body := postToken(t, ts, url.Values{
			"grant_type":    {"password"},
			"client_id":     {"c1"},
			"client_secret": {"s1"},
			"username":      {"u"},
			"password":      {"p"},
			"scope":         {scope},
		})
		return body["access_token"].(string)
	}

	get := func(t *testing.T, path, bearer string) (*http.Response, map[string]any) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		require.NoError(t, err)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var body map[string]any
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &body))
		}
		return resp, body
	}

	t.Run("AuthorizedRequest", func(t *testing.T) {
		resp, body := get(t, "/api/account", token(t, "account"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "u1", body["user"])
	})

	t.Run("InsufficientScopeIs403", func(t *testing.T) {
		resp, body := get(t, "/api/edit", token(t, "account"))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "insufficient_scope", body["error"])
		assert.NotEmpty(t, body["error_description"])
	})

	t.Run("MissingBearerIs401WithBareBody", func(t *testing.T) {
		resp, body := get(t, "/api/account", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, map[string]any{"error": "invalid_token"}, body)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")
	})

	t.Run("GarbageBearerIs401", func(t *testing.T) {
		resp, body := get(t, "/api/account", "garbage")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, map[string]any{"error": "invalid_token"}, body)
	})
}

func TestBearerInQueryString(t *testing.T) {
	t.Run("OffByDefault", func(t *testing.T) {
		_, ts := newTestHTTPServer(t)
		tok := passwordToken(t, ts)
		resp, err := http.Get(ts.URL + "/api/account?access_token=" + url.QueryEscape(tok))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("WorksWhenEnabled", func(t *testing.T) {
		_, ts := newTestHTTPServer(t, WithBearerInQueryString(true))
		tok := passwordToken(t, ts)
		resp, err := http.Get(ts.URL + "/api/account?access_token=" + url.QueryEscape(tok))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func passwordToken(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	_, body := postToken(t, ts, url.Values{
		"grant_type":    {"password"},
		"client_id":     {"c1"},
		"client_secret": {"s1"},
		"username":      {"u"},
		"password":      {"p"},
		"scope":         {"account"},
	})
	return body["access_token"].(string)
}

func TestMetadataEndpoint(t *testing.T) {
	_, ts := newTestHTTPServer(t)

	resp, err := http.Get(ts.URL + "/.well-known/oauth-authorization-server")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var meta map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	assert.NotEmpty(t, meta["issuer"])
	assert.Equal(t, "/oauth/token", meta["token_endpoint"])
	assert.Contains(t, meta["grant_types_supported"], "refresh_token")
}

// The standard oauth2 client libraries exercise the endpoints the way real
// integrations will.
func TestStandardClientIntegration(t *testing.T) {
	_, ts := newTestHTTPServer(t)
	ctx := context.Background()

	t.Run("ClientCredentials", func(t *testing.T) {
		cfg := clientcredentials.Config{
			ClientID:     "c1",
			ClientSecret: "s1",
			TokenURL:     ts.URL + "/oauth/token",
			Scopes:       []string{"account"},
		}
		tok, err := cfg.Token(ctx)
		require.NoError(t, err)
		assert.True(t, tok.Valid())
	})

	t.Run("PasswordThenRefresh", func(t *testing.T) {
		cfg := oauth2.Config{
			ClientID:     "c1",
			ClientSecret: "s1",
			Endpoint: oauth2.Endpoint{
				AuthURL:  ts.URL + "/oauth/authorize",
				TokenURL: ts.URL + "/oauth/token",
			},
			Scopes: []string{"account", "edit"},
		}
		tok, err := cfg.PasswordCredentialsToken(ctx, "u", "p")
		require.NoError(t, err)
		require.True(t, tok.Valid())
		require.NotEmpty(t, tok.RefreshToken)

		// Force a refresh by presenting an expired access token.
		stale := &oauth2.Token{RefreshToken: tok.RefreshToken}
		fresh, err := cfg.TokenSource(ctx, stale).Token()
		require.NoError(t, err)
		assert.True(t, fresh.Valid())
		assert.NotEqual(t, tok.AccessToken, fresh.AccessToken)
	})

	t.Run("AuthorizationCodeExchange", func(t *testing.T) {
		code := fetchAuthCode(t, ts, "account")
		cfg := oauth2.Config{
			ClientID:     "c1",
			ClientSecret: "s1",
			RedirectURL:  "https://app.example.com/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:  ts.URL + "/oauth/authorize",
				TokenURL: ts.URL + "/oauth/token",
			},
		}
		tok, err := cfg.Exchange(ctx, code)
		require.NoError(t, err)
		assert.True(t, tok.Valid())
		assert.NotEmpty(t, tok.RefreshToken)
	})
}
