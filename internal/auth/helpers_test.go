package auth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/dvcrn/restream-bridge/internal/credentials"
	"github.com/dvcrn/restream-bridge/internal/instance"
	"github.com/rs/zerolog"
)

// tokenServer is a fake Restream token endpoint recording every request.
type tokenServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []url.Values
	users    []string
	handler  func(w http.ResponseWriter, form url.Values)
}

func newTokenServer(t *testing.T, handler func(w http.ResponseWriter, form url.Values)) *tokenServer {
	t.Helper()
	ts := &tokenServer{handler: handler}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		user, _, _ := r.BasicAuth()
		ts.mu.Lock()
		ts.requests = append(ts.requests, r.PostForm)
		ts.users = append(ts.users, user)
		ts.mu.Unlock()
		ts.handler(w, r.PostForm)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) hits() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.requests)
}

func (ts *tokenServer) request(i int) url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.requests[i]
}

func (ts *tokenServer) endpoints() Endpoints {
	return Endpoints{LoginURL: ts.URL + "/login", TokenURL: ts.URL + "/oauth/token"}
}

func writeTokens(w http.ResponseWriter, access, refresh string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"access_token":"` + access + `","refresh_token":"` + refresh + `","token_type":"bearer","expires_in":3600}`))
}

func validCreds() credentials.Credentials {
	return credentials.Credentials{
		ClientID:     "client",
		ClientSecret: "secret",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		RedirectURL:  "https://example.com/callback",
	}
}

func newTestInstance(creds credentials.Credentials) (*instance.Instance, *credentials.MemoryStore) {
	store := credentials.NewMemoryStore()
	return instance.New(creds, store, zerolog.Nop()), store
}
