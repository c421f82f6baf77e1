package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linhptit/strava-webhook-vercel/internal/credentials"
	"github.com/linhptit/strava-webhook-vercel/internal/dispatch"
	"github.com/linhptit/strava-webhook-vercel/internal/enrich"
	"github.com/linhptit/strava-webhook-vercel/internal/oauthstate"
	"github.com/linhptit/strava-webhook-vercel/internal/quotes"
	"github.com/linhptit/strava-webhook-vercel/internal/redact"
	"github.com/linhptit/strava-webhook-vercel/internal/strava"
)

const marker = "Powered by https://strautomator.com"

func TestVerifySubscriptionEchoesChallenge(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/webhook?hub.verify_token=verify-me&hub.challenge=abc123&hub.mode=subscribe", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"hub.challenge":"abc123"}`, rr.Body.String())
}

func TestVerifySubscriptionRejectsWrongToken(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/webhook?hub.verify_token=nope&hub.challenge=abc123", nil))

	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "Forbidden", rr.Body.String())
}

func TestWebhookOwnerMissing(t *testing.T) {
	env := newTestEnv(t)

	rr := env.post(`{"object_type":"activity","aspect_type":"create","object_id":123}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "Owner ID is null", rr.Body.String())
	require.Empty(t, env.strava.requests())
}

func TestWebhookInvalidObjectType(t *testing.T) {
	env := newTestEnv(t)

	rr := env.post(`{"object_type":"athlete","aspect_type":"update","object_id":42,"owner_id":42}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "Invalid object type", rr.Body.String())
	require.Empty(t, env.strava.requests())
}

func TestWebhookUnknownOwner(t *testing.T) {
	env := newTestEnv(t)

	rr := env.post(`{"object_type":"activity","aspect_type":"create","object_id":123,"owner_id":999}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "Refresh token not found", rr.Body.String())
	require.Empty(t, env.strava.requests())
}

func TestWebhookCreateSetsQuoteAsTitle(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "42", "rt-42")

	rr := env.post(`{"object_type":"activity","aspect_type":"create","object_id":123,"owner_id":42}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "EVENT_RECEIVED", rr.Body.String())
	require.Equal(t, []string{"POST /oauth/token", "PUT /api/v3/activities/123"}, env.strava.requests())
	require.Equal(t, "rt-42", env.strava.lastRefresh())

	update := env.strava.lastUpdate()
	require.Equal(t, "Keep moving", update["title"])
	require.Equal(t, "Keep moving", update["name"])
	require.NotContains(t, update, "description")
}

func TestWebhookUpdateStripsMarker(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "42", "rt-42")
	env.strava.setDescription("123", "Legs: 5/10\n"+marker)

	rr := env.post(`{"object_type":"activity","aspect_type":"update","object_id":"123","owner_id":"42","updates":{"title":"x"}}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "EVENT_RECEIVED", rr.Body.String())
	require.Equal(t, []string{"POST /oauth/token", "GET /api/v3/activities/123", "PUT /api/v3/activities/123"}, env.strava.requests())
	require.Equal(t, map[string]any{"description": "Legs: 5/10"}, env.strava.lastUpdate())
}

func TestWebhookUpdateWithoutMarkerDoesNotWrite(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "42", "rt-42")
	env.strava.setDescription("123", "Great ride!")

	rr := env.post(`{"object_type":"activity","aspect_type":"update","object_id":123,"owner_id":42}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "EVENT_RECEIVED", rr.Body.String())
	require.Equal(t, []string{"POST /oauth/token", "GET /api/v3/activities/123"}, env.strava.requests())
}

func TestWebhookDeleteIsAcknowledgedWithoutExchange(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "42", "rt-42")

	rr := env.post(`{"object_type":"activity","aspect_type":"delete","object_id":123,"owner_id":42}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "EVENT_RECEIVED", rr.Body.String())
	require.Empty(t, env.strava.requests())
}

func TestWebhookExchangeFailureIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "42", "rt-42")
	env.strava.failTokens()

	rr := env.post(`{"object_type":"activity","aspect_type":"create","object_id":123,"owner_id":42}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "EVENT_RECEIVED", rr.Body.String())
	require.Equal(t, []string{"POST /oauth/token"}, env.strava.requests())
}

func TestWebhookMutationSurvivesCallerDisconnect(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "42", "rt-42")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.strava.onTokenRequest(cancel)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"object_type":"activity","aspect_type":"create","object_id":123,"owner_id":42}`)).WithContext(ctx)
	rr := env.do(req)

	require.Error(t, ctx.Err())
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "EVENT_RECEIVED", rr.Body.String())
	require.Equal(t, []string{"POST /oauth/token", "PUT /api/v3/activities/123"}, env.strava.requests())
	require.Equal(t, "Keep moving", env.strava.lastUpdate()["name"])
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`not json`, `[]`, `{"aspect_type":"create","object_id":1}`, `{"object_type":"activity","aspect_type":"create","object_id":{}}`} {
		rr := env.post(body)
		require.Equal(t, http.StatusBadRequest, rr.Code, body)
		require.Equal(t, "Invalid payload", rr.Body.String(), body)
	}
	require.Empty(t, env.strava.requests())
}

func TestWebhookRejectsUnsupportedMethod(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodDelete, "/webhook", nil))

	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestConnectRedirectsWithSignedState(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/strava/connect", nil))

	require.Equal(t, http.StatusFound, rr.Code)
	location, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/oauth/authorize", location.Path)
	q := location.Query()
	require.Equal(t, ConnectScope, q.Get("scope"))
	require.Equal(t, "https://relay.example.com/strava/callback", q.Get("redirect_uri"))
	require.NoError(t, env.signer.Verify(q.Get("state")))
}

func TestCallbackLinksAthlete(t *testing.T) {
	env := newTestEnv(t)
	state, err := env.signer.Issue()
	require.NoError(t, err)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/strava/callback?code=auth-code&state="+url.QueryEscape(state), nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp LinkResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, LinkResponse{AthleteID: "42", Firstname: "Ada", Lastname: "Lovelace", Linked: true}, resp)

	stored, err := env.store.Get(context.Background(), credentials.Key("42"))
	require.NoError(t, err)
	require.Equal(t, "rt-linked", stored)
}

func TestCallbackWithoutStateIsAccepted(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/strava/callback?code=auth-code", nil))

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestCallbackRequiresCode(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/strava/callback", nil))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, env.strava.requests())
}

func TestCallbackRejectsForgedState(t *testing.T) {
	env := newTestEnv(t)
	forged, err := oauthstate.NewSigner(redact.Secret("someone-else"), time.Minute).Issue()
	require.NoError(t, err)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/strava/callback?code=auth-code&state="+url.QueryEscape(forged), nil))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, env.strava.requests())
}

func TestCallbackExchangeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.strava.failTokens()

	rr := env.do(httptest.NewRequest(http.MethodGet, "/strava/callback?code=auth-code", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestCallbackStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHandler(Config{
		VerifyToken: redact.Secret("verify-me"),
		Dispatcher:  env.dispatcher,
		OAuth:       env.client,
		Accounts:    failingLinker{},
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/strava/callback?code=auth-code", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "rt-linked")
}

func TestLinkingRoutesNeedAccountStore(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHandler(Config{VerifyToken: redact.Secret("verify-me"), Dispatcher: env.dispatcher})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/strava/connect", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
}

type testEnv struct {
	mux        *http.ServeMux
	strava     *fakeStrava
	client     *strava.Client
	store      *credentials.MemoryStore
	dispatcher *dispatch.Dispatcher
	signer     *oauthstate.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fake := newFakeStrava()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := strava.NewClient(strava.Config{
		OAuthURL:     srv.URL + "/oauth",
		APIURL:       srv.URL + "/api/v3",
		ClientID:     "1234",
		ClientSecret: redact.Secret("client-secret"),
		HTTPClient:   srv.Client(),
	})
	corpus, err := quotes.New([]quotes.Quote{{Text: "Keep moving"}})
	require.NoError(t, err)

	store := credentials.NewMemoryStore()
	resolver := credentials.NewStoreResolver(store)
	dispatcher := dispatch.NewDispatcher(resolver, client, enrich.NewMutator(client, corpus, marker))
	signer := oauthstate.NewSigner(redact.Secret("state-secret"), time.Minute)

	handler := NewHandler(Config{
		VerifyToken: redact.Secret("verify-me"),
		RedirectURI: "https://relay.example.com/strava/callback",
		Dispatcher:  dispatcher,
		OAuth:       client,
		Accounts:    resolver,
		State:       signer,
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return &testEnv{mux: mux, strava: fake, client: client, store: store, dispatcher: dispatcher, signer: signer}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) post(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *testEnv) link(t *testing.T, athleteID, refreshToken string) {
	t.Helper()
	require.NoError(t, e.store.Set(context.Background(), credentials.Key(athleteID), refreshToken))
}

// fakeStrava serves the token and activity endpoints from memory.
type fakeStrava struct {
	mu           sync.Mutex
	calls        []string
	descriptions map[string]string
	updates      []map[string]any
	refreshes    []string
	tokenFailure bool
	onToken      func()
}

func newFakeStrava() *fakeStrava {
	return &fakeStrava{descriptions: make(map[string]string)}
}

func (f *fakeStrava) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/oauth/token":
		if f.onToken != nil {
			f.onToken()
		}
		if f.tokenFailure {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"Bad Request"}`))
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["grant_type"] == "authorization_code" {
			_, _ = w.Write([]byte(`{"access_token":"at-linked","refresh_token":"rt-linked","expires_at":1700000000,"athlete":{"id":42,"firstname":"Ada","lastname":"Lovelace"}}`))
			return
		}
		f.refreshes = append(f.refreshes, body["refresh_token"])
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"` + body["refresh_token"] + `","expires_at":1700000000}`))
	case strings.HasPrefix(r.URL.Path, "/api/v3/activities/"):
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/v3/activities/")
		if r.Method == http.MethodPut {
			var update map[string]any
			_ = json.NewDecoder(r.Body).Decode(&update)
			f.updates = append(f.updates, update)
			if description, ok := update["description"].(string); ok {
				f.descriptions[id] = description
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 123, "name": "Morning Ride", "description": f.descriptions[id]})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeStrava) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStrava) lastUpdate() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return nil
	}
	return f.updates[len(f.updates)-1]
}

func (f *fakeStrava) lastRefresh() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.refreshes) == 0 {
		return ""
	}
	return f.refreshes[len(f.refreshes)-1]
}

func (f *fakeStrava) setDescription(id, description string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descriptions[id] = description
}

func (f *fakeStrava) onTokenRequest(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onToken = hook
}

func (f *fakeStrava) failTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenFailure = true
}

type failingLinker struct{}

func (failingLinker) Link(context.Context, credentials.UserCredential) error {
	return errors.New("redis set: connection refused")
}
