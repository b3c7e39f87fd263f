package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/displex/displex/internal/accounts"
	"github.com/displex/displex/internal/api/ratelimit"
	"github.com/displex/displex/internal/discord"
	"github.com/displex/displex/internal/linking"
	"github.com/displex/displex/internal/plex"
	"github.com/displex/displex/internal/session"
	"github.com/displex/displex/internal/tautulli"
	"github.com/displex/displex/internal/testutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// upstreams fakes Discord, plex.tv and Tautulli in one server.
type upstreams struct {
	mu        sync.Mutex
	serverID  string
	exchanged int
	pushed    map[string]any
	onProfile func()
}

func (u *upstreams) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /discord/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.exchanged++
		u.mu.Unlock()
		assert.Equal(t, "discord-code", r.FormValue("code"))
		w.Write([]byte(`{"access_token":"discord-access","refresh_token":"discord-refresh","expires_in":604800,"scope":"identify role_connections.write"}`))
	})
	mux.HandleFunc("GET /discord/users/@me", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		hook := u.onProfile
		u.mu.Unlock()
		if hook != nil {
			hook()
		}
		w.Write([]byte(`{"id":"80351110224678912","username":"nelly"}`))
	})
	mux.HandleFunc("PUT /discord/users/@me/applications/app-123/role-connection", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		u.mu.Lock()
		u.pushed = body
		u.mu.Unlock()
		w.Write([]byte(`{}`))
	})

	mux.HandleFunc("POST /plex/api/v2/pins", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":99,"code":"pincode","expiresIn":1800}`))
	})
	mux.HandleFunc("GET /plex/api/v2/pins/99", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":99,"code":"pincode","authToken":"plex-token"}`))
	})
	mux.HandleFunc("GET /plex/api/v2/resources", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"name":"home","clientIdentifier":%q,"provides":"server"}]`, u.serverID)
	})
	mux.HandleFunc("GET /plex/api/v2/user", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1234,"uuid":"u","username":"nelly_plex"}`))
	})

	mux.HandleFunc("GET /tautulli/api/v2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"result":"success","data":[{"query_days":0,"total_time":7300,"total_plays":42}]}}`))
	})

	return mux
}

func (u *upstreams) exchangeCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.exchanged
}

func (u *upstreams) lastPush() map[string]any {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pushed
}

type testEnv struct {
	srv    *Server
	up     *upstreams
	tdb    *testutil.TestDB
	app    *httptest.Server
	client *http.Client
}

func newTestEnv(t *testing.T, deviceID string) *testEnv {
	t.Helper()

	up := &upstreams{serverID: deviceID}
	fake := httptest.NewServer(up.handler(t))
	t.Cleanup(fake.Close)

	tdb := testutil.NewTestDB(t)
	logger := zerolog.Nop()

	dc := discord.NewClient(fake.Client(), discord.Config{
		ClientID:     "app-123",
		ClientSecret: "secret",
		RedirectURL:  "https://displex.example.com/discord/callback",
		APIURL:       fake.URL + "/discord",
	}, logger)
	pc := plex.NewClient(fake.Client(), plex.Config{
		ClientID:   "displex-test",
		ForwardURL: "https://displex.example.com/plex/callback",
		BaseURL:    fake.URL + "/plex",
	}, logger)
	tc := tautulli.NewClient(fake.Client(), fake.URL+"/tautulli", "key", logger)
	repo := accounts.NewRepository(tdb.Conn, nil, logger)

	orch := linking.NewOrchestrator(linking.Config{ServerID: "abc", PlatformName: "My Plex"}, dc, pc, tc, repo, logger)

	store, err := session.NewCookieStore(testSecret, session.CookieOptions{TTL: 10 * time.Minute})
	require.NoError(t, err)

	srv := NewServer(orch, store, tdb.Conn, ratelimit.NewLimiter(600, 100), logger)
	app := httptest.NewServer(srv.Echo())
	t.Cleanup(app.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		srv: srv,
		up:  up,
		tdb: tdb,
		app: app,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.client.Get(e.app.URL + path)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

// startFlow runs the first two steps and returns the Plex claim URL.
func (e *testEnv) startFlow(t *testing.T) *url.URL {
	t.Helper()

	resp := e.get(t, "/discord/linked-role")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	authURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	resp = e.get(t, "/discord/callback?"+url.Values{"code": {"discord-code"}, "state": {state}}.Encode())
	require.Equal(t, http.StatusFound, resp.StatusCode)
	claimURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return claimURL
}

func TestServer_LinkFlow(t *testing.T) {
	env := newTestEnv(t, "abc")

	claimURL := env.startFlow(t)
	assert.Equal(t, "app.plex.tv", claimURL.Host)
	assert.Contains(t, claimURL.Fragment, "code=pincode")
	assert.Contains(t, claimURL.Fragment, "forwardUrl=https://displex.example.com/plex/callback?")
	assert.Zero(t, env.up.exchangeCount(), "Discord code is held until the Plex step")

	resp := env.get(t, "/plex/callback?id=99&code=pincode")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, discord.SuccessURL, resp.Header.Get("Location"))

	for _, table := range []string{"discord_users", "discord_tokens", "plex_users", "plex_tokens"} {
		assert.Equal(t, 1, env.tdb.CountRows(t, table), table)
	}

	pushed := env.up.lastPush()
	require.NotNil(t, pushed)
	assert.Equal(t, "My Plex", pushed["platform_name"])
	assert.Equal(t, "nelly_plex", pushed["platform_username"])
	assert.Equal(t, map[string]any{"total_watches": "42", "hours_watched": "2"}, pushed["metadata"])

	resp = env.get(t, "/plex/callback?id=99&code=pincode")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, "a finished flow cannot be replayed")
}

func TestServer_LinkFlowSurvivesClientDisconnect(t *testing.T) {
	env := newTestEnv(t, "abc")
	env.startFlow(t)

	appURL, err := url.Parse(env.app.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.up.mu.Lock()
	env.up.onProfile = cancel
	env.up.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/plex/callback?id=99&code=pincode", nil).WithContext(ctx)
	for _, cookie := range env.client.Jar.Cookies(appURL) {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	env.srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Error(t, ctx.Err())
	assert.Equal(t, 1, env.tdb.CountRows(t, "discord_users"))
	assert.NotNil(t, env.up.lastPush())
}

func TestServer_UnauthorizedDevice(t *testing.T) {
	env := newTestEnv(t, "xyz")
	env.startFlow(t)

	resp := env.get(t, "/plex/callback?id=99&code=pincode")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, env.up.exchangeCount())
	assert.Equal(t, 0, env.tdb.CountRows(t, "discord_users"))
}

func TestServer_StateMismatch(t *testing.T) {
	env := newTestEnv(t, "abc")

	resp := env.get(t, "/discord/linked-role")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	resp = env.get(t, "/discord/callback?code=discord-code&state=forged")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_DeviceCallbackWithoutHandoff(t *testing.T) {
	env := newTestEnv(t, "abc")

	resp := env.get(t, "/plex/callback?id=99&code=pincode")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 0, env.tdb.CountRows(t, "discord_users"))
}

type stubFlow struct {
	err error
}

func (f stubFlow) Start(context.Context, linking.Session) (string, error) {
	return "https://discord.test", f.err
}

func (f stubFlow) HandleIdentityCallback(context.Context, linking.Session, string, string) (string, error) {
	return "https://plex.test", f.err
}

func (f stubFlow) CompleteDeviceCallback(context.Context, linking.Session, int, string) (string, error) {
	return "https://discord.test/done", f.err
}

func TestServer_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid state", linking.ErrInvalidState, http.StatusBadRequest},
		{"unauthorized device", linking.ErrUnauthorizedDevice, http.StatusUnauthorized},
		{"missing handoff", linking.ErrMissingHandoffState, http.StatusInternalServerError},
		{"upstream", fmt.Errorf("%w: plex.claim_pin: %w", linking.ErrUpstreamAuth, context.DeadlineExceeded), http.StatusInternalServerError},
		{"persistence", linking.ErrPersistence, http.StatusInternalServerError},
		{"metadata", linking.ErrMetadataPush, http.StatusInternalServerError},
	}

	store, err := session.NewCookieStore(testSecret, session.CookieOptions{TTL: time.Minute})
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(stubFlow{err: tt.err}, store, nil, nil, zerolog.Nop())

			rec := httptest.NewRecorder()
			srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plex/callback?id=1&code=x", nil))

			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
			assert.NotContains(t, rec.Body.String(), "plex.claim_pin", "details stay out of the page")
		})
	}
}

func TestServer_PlexCallbackBadQuery(t *testing.T) {
	store, err := session.NewCookieStore(testSecret, session.CookieOptions{TTL: time.Minute})
	require.NoError(t, err)
	srv := NewServer(stubFlow{}, store, nil, nil, zerolog.Nop())

	for _, query := range []string{"", "id=abc&code=x", "id=-1&code=x", "id=1"} {
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plex/callback?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestServer_Redirects(t *testing.T) {
	store, err := session.NewCookieStore(testSecret, session.CookieOptions{TTL: time.Minute})
	require.NoError(t, err)
	srv := NewServer(stubFlow{}, store, nil, nil, zerolog.Nop())

	tests := map[string]string{
		"/discord/linked-role":             "https://discord.test",
		"/discord/callback?code=a&state=b": "https://plex.test",
		"/plex/callback?id=1&code=x":       "https://discord.test/done",
	}
	for path, location := range tests {
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusFound, rec.Code, path)
		assert.Equal(t, location, rec.Header().Get("Location"), path)
	}
}

func TestServer_Health(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store, err := session.NewCookieStore(testSecret, session.CookieOptions{TTL: time.Minute})
	require.NoError(t, err)
	srv := NewServer(stubFlow{}, store, tdb.Conn, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"status":"ok"`))

	tdb.Close()
	rec = httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RateLimited(t *testing.T) {
	store, err := session.NewCookieStore(testSecret, session.CookieOptions{TTL: time.Minute})
	require.NoError(t, err)
	srv := NewServer(stubFlow{}, store, nil, ratelimit.NewLimiter(1, 1), zerolog.Nop())

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/discord/linked-role", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusFound, http.StatusTooManyRequests}, codes)
}
