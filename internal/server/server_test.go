package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/diagnosis/vms/internal/domain"
	"github.com/diagnosis/vms/internal/http/handlers"
	"github.com/diagnosis/vms/internal/repository"
	"github.com/diagnosis/vms/internal/repository/memory"
	"github.com/diagnosis/vms/internal/service"
	"github.com/diagnosis/vms/pkg/auth"
	"github.com/diagnosis/vms/pkg/events"
	"github.com/diagnosis/vms/pkg/lock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const password = "Str0ng!Pass"

type testAPI struct {
	t       *testing.T
	handler http.Handler
	passes  *memory.Passes
	tokens  *auth.TokenManager
}

func newTestAPI(t *testing.T, opts RouterOptions) *testAPI {
	t.Helper()

	accounts := memory.NewAccounts()
	passes := memory.NewPasses()
	tokens := auth.NewTokenManager("test-secret", "vms", 2*time.Hour)
	hasher := auth.NewPasswordHasher(auth.AlgoBcrypt, bcrypt.MinCost)

	acctSvc := service.NewAccountService(accounts, passes, hasher, tokens, events.NopPublisher{})
	passSvc := service.NewPassService(passes, accounts, lock.NopLocker{}, events.NopPublisher{})
	h := handlers.New(acctSvc, passSvc, tokens)

	return &testAPI{
		t:       t,
		handler: NewRouter(h, opts),
		passes:  passes,
		tokens:  tokens,
	}
}

func (a *testAPI) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

func (a *testAPI) register(role, token string, body map[string]string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/v1/auth/register/"+role, token, body)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (a *testAPI) login(username string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[domain.LoginResponse](a.t, rec).Token
}

// bootstrap creates admin "root", host "h1", security "s1" and visitor "v1"
// (national id 900101-01-1234) and returns their tokens.
func (a *testAPI) bootstrap() map[string]string {
	a.t.Helper()

	a.register("admin", "", map[string]string{
		"username": "root", "password": password, "name": "Root",
		"email": "root@example.com", "phoneNumber": "+60 12-000 0000",
	})
	tokens := map[string]string{"root": a.login("root")}

	a.register("host", tokens["root"], map[string]string{
		"username": "h1", "password": password, "name": "Hana Host",
		"email": "h1@example.com", "phoneNumber": "+60 12-111 1111", "nationalId": "800101-01-0001",
	})
	a.register("security", tokens["root"], map[string]string{
		"username": "s1", "password": password, "name": "Sam Security",
		"email": "s1@example.com", "phoneNumber": "+60 12-222 2222", "nationalId": "800101-01-0002",
	})
	tokens["h1"] = a.login("h1")
	tokens["s1"] = a.login("s1")

	a.register("visitor", tokens["s1"], map[string]string{
		"username": "v1", "password": password, "name": "Alice",
		"phoneNumber": "+60 12-333 3333", "nationalId": "900101-01-1234",
	})
	tokens["v1"] = a.login("v1")
	return tokens
}

func TestHostScenario(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	tokens := api.bootstrap()
	alice := map[string]string{"name": "Alice", "nationalId": "900101-01-1234", "purpose": "meeting"}

	rec := api.do(http.MethodPost, "/v1/passes", tokens["h1"], alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	issued := decode[domain.IssuePassResponse](t, rec)
	assert.NotEmpty(t, issued.PassIdentifier)
	assert.Equal(t, domain.PassKindHost, issued.Pass.Kind)

	rec = api.do(http.MethodPost, "/v1/passes", tokens["h1"], alice)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_ACTIVE", decode[errorBody](t, rec).Code)

	// public lookup before checkout
	rec = api.do(http.MethodGet, "/v1/passes/lookup?nationalId=900101-01-1234", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	before := decode[map[string]any](t, rec)
	assert.Equal(t, issued.PassIdentifier, before["passIdentifier"])
	assert.Nil(t, before["checkOutTime"])
	assert.NotContains(t, before, "issuedBy")

	// issuer contact
	rec = api.do(http.MethodGet, "/v1/passes/"+issued.PassIdentifier+"/issuer-contact", tokens["v1"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	contact := decode[domain.IssuerContact](t, rec)
	assert.Equal(t, "+60 12-111 1111", contact.PhoneNumber)
	assert.Equal(t, "Hana Host", contact.IssuerName)

	rec = api.do(http.MethodGet, "/v1/passes/nope/issuer-contact", tokens["v1"], nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// visitor checks out
	rec = api.do(http.MethodPost, "/v1/visitor/checkout", tokens["v1"], nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, "/v1/passes/lookup?nationalId=900101-01-1234", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	after := decode[domain.PublicPass](t, rec)
	require.NotNil(t, after.CheckOutTime)
	assert.False(t, after.CheckOutTime.Before(after.CheckInTime))

	rec = api.do(http.MethodPost, "/v1/visitor/checkout", tokens["v1"], nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_CHECKED_IN", decode[errorBody](t, rec).Code)
}

func TestLookup_NotFoundAndMissingParam(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})

	rec := api.do(http.MethodGet, "/v1/passes/lookup?nationalId=unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodGet, "/v1/passes/lookup", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorization(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	tokens := api.bootstrap()

	expired := auth.NewTokenManager("test-secret", "vms", -time.Minute)
	oldToken, _, err := expired.Issue(auth.Identity{Username: "h1", Role: "host"})
	require.NoError(t, err)
	forged, _, err := auth.NewTokenManager("other-secret", "vms", time.Hour).Issue(auth.Identity{Username: "root", Role: "admin"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/v1/me", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/v1/me", "not-a-jwt", http.StatusUnauthorized},
		{"expired token", http.MethodGet, "/v1/me", oldToken, http.StatusUnauthorized},
		{"forged token", http.MethodGet, "/v1/me", forged, http.StatusUnauthorized},
		{"visitor issuing pass", http.MethodPost, "/v1/passes", tokens["v1"], http.StatusUnauthorized},
		{"admin issuing pass", http.MethodPost, "/v1/passes", tokens["root"], http.StatusUnauthorized},
		{"host listing security passes", http.MethodGet, "/v1/security/passes", tokens["h1"], http.StatusUnauthorized},
		{"security listing host passes", http.MethodGet, "/v1/host/passes", tokens["s1"], http.StatusUnauthorized},
		{"host visitor checkout", http.MethodPost, "/v1/visitor/checkout", tokens["h1"], http.StatusUnauthorized},
		{"host deleting pass", http.MethodDelete, "/v1/admin/passes/x", tokens["h1"], http.StatusUnauthorized},
		{"host profile", http.MethodGet, "/v1/me", tokens["h1"], http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(tt.method, tt.path, tt.token, map[string]string{})
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want == http.StatusUnauthorized {
				body := decode[errorBody](t, rec)
				assert.Equal(t, "UNAUTHORIZED", body.Code)
				assert.Equal(t, "unauthorized", body.Error)
			}
		})
	}
}

func TestRegistration(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	tokens := api.bootstrap()

	t.Run("second anonymous admin rejected", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/v1/auth/register/admin", "", map[string]string{
			"username": "root2", "password": password, "name": "R", "email": "r@example.com", "phoneNumber": "+60 12-000 0001",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid role", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/v1/auth/register/janitor", tokens["root"], map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid token on register", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/v1/auth/register/visitor", "bad", map[string]string{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("duplicate username across partitions", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/v1/auth/register/visitor", tokens["s1"], map[string]string{
			"username": "h1", "password": password, "name": "X", "phoneNumber": "+60 12-444 4444", "nationalId": "1",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "USERNAME_TAKEN", decode[errorBody](t, rec).Code)
	})

	t.Run("weak password lists every rule", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/v1/auth/register/visitor", tokens["s1"], map[string]string{
			"username": "v2", "password": "abc", "name": "X", "phoneNumber": "+60 12-444 4444", "nationalId": "2",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode[errorBody](t, rec)
		assert.Equal(t, "INVALID_INPUT", body.Code)

		var report domain.PasswordReport
		require.NoError(t, json.Unmarshal(body.Details, &report))
		assert.Len(t, report.Rules, 6)
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	api.bootstrap()

	rec := api.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "h1", "password": password})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[domain.LoginResponse](t, rec)
	assert.Equal(t, int64(7200), resp.ExpiresIn)

	claims, err := api.tokens.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "h1", claims.Subject)
	assert.Equal(t, "host", claims.Role)

	for _, creds := range []map[string]string{
		{"username": "h1", "password": "Wr0ng!Pass"},
		{"username": "ghost", "password": password},
	} {
		rec := api.do(http.MethodPost, "/v1/auth/login", "", creds)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "INVALID_CREDENTIALS", decode[errorBody](t, rec).Code)
	}
}

func TestProfileAndPasswordChange(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	tokens := api.bootstrap()

	rec := api.do(http.MethodGet, "/v1/me", tokens["root"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[domain.Profile](t, rec)
	assert.Len(t, profile.Accounts[domain.RoleVisitor], 1)
	assert.NotContains(t, rec.Body.String(), "$2a$")

	rec = api.do(http.MethodGet, "/v1/me", tokens["s1"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile = decode[domain.Profile](t, rec)
	require.Len(t, profile.RegisteredVisitors, 1)
	assert.Equal(t, "v1", profile.RegisteredVisitors[0].Username)

	rec = api.do(http.MethodPut, "/v1/me/password", tokens["h1"], map[string]string{
		"currentPassword": password, "newPassword": "N3w!Password",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "h1", "password": "N3w!Password"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteAccount(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	tokens := api.bootstrap()

	rec := api.do(http.MethodDelete, "/v1/accounts/host?username=h1", tokens["s1"], nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodDelete, "/v1/accounts/visitor?nationalId=900101-01-1234", tokens["root"], nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, "/v1/me", tokens["s1"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[domain.Profile](t, rec).RegisteredVisitors)

	rec = api.do(http.MethodDelete, "/v1/accounts/visitor?nationalId=900101-01-1234", tokens["root"], nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodDelete, "/v1/accounts/host?username=h1", tokens["h1"], nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// the token outlives the account; the profile is gone
	rec = api.do(http.MethodGet, "/v1/me", tokens["h1"], nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecurityPassFlow(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	tokens := api.bootstrap()

	rec := api.do(http.MethodPost, "/v1/passes", tokens["s1"], map[string]string{
		"name": "Bob", "nationalId": "900101-01-5555", "purpose": "delivery",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, "/v1/passes", tokens["s1"], map[string]string{
		"name": "Bob", "nationalId": "900101-01-5555", "company": "Acme", "vehicleNumber": "wxy 1234", "purpose": "delivery",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	issued := decode[domain.IssuePassResponse](t, rec)
	assert.Equal(t, domain.PassKindSecurity, issued.Pass.Kind)

	rec = api.do(http.MethodGet, "/v1/security/passes", tokens["s1"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Passes []domain.VisitorPass `json:"passes"`
	}](t, rec)
	assert.Len(t, list.Passes, 1)

	rec = api.do(http.MethodGet, "/v1/host/passes", tokens["h1"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"passes":[],"limit":20,"offset":0}`, rec.Body.String())

	rec = api.do(http.MethodGet, "/v1/security/passes?limit=abc", tokens["s1"], nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/v1/passes/"+issued.PassIdentifier+"/issuer-contact", tokens["v1"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RoleSecurity, decode[domain.IssuerContact](t, rec).IssuerRole)

	rec = api.do(http.MethodPost, "/v1/passes/"+issued.PassIdentifier+"/checkout", tokens["s1"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(http.MethodPost, "/v1/passes/"+issued.PassIdentifier+"/checkout", tokens["s1"], nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodDelete, "/v1/admin/passes/"+issued.PassIdentifier, tokens["root"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(http.MethodDelete, "/v1/admin/passes/"+issued.PassIdentifier, tokens["root"], nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConcurrentIssue(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	tokens := api.bootstrap()
	body := map[string]string{
		"name": "Alice", "nationalId": "900101-01-1234", "company": "Acme", "vehicleNumber": "A 1", "purpose": "meeting",
	}

	const n = 30
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			issuer := tokens["h1"]
			if i%2 == 0 {
				issuer = tokens["s1"]
			}
			codes[i] = api.do(http.MethodPost, "/v1/passes", issuer, body).Code
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		if c == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusConflict, c)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, api.passes.ActiveCount("900101-01-1234"))
}

func TestIdempotentIssue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	api := newTestAPI(t, RouterOptions{Idempotency: repository.NewIdempotencyRepository(client)})
	tokens := api.bootstrap()
	body := map[string]string{"name": "Alice", "nationalId": "900101-01-1234", "purpose": "meeting"}

	first := api.do(http.MethodPost, "/v1/passes", tokens["h1"], body, "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusCreated, first.Code)

	retry := api.do(http.MethodPost, "/v1/passes", tokens["h1"], body, "Idempotency-Key", "retry-1")
	assert.Equal(t, http.StatusCreated, retry.Code)
	assert.Equal(t, "true", retry.Header().Get("Idempotent-Replayed"))
	assert.Equal(t,
		decode[domain.IssuePassResponse](t, first).PassIdentifier,
		decode[domain.IssuePassResponse](t, retry).PassIdentifier)

	fresh := api.do(http.MethodPost, "/v1/passes", tokens["h1"], body, "Idempotency-Key", "retry-2")
	assert.Equal(t, http.StatusConflict, fresh.Code)
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	rec := api.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	down := newTestAPI(t, RouterOptions{Ready: func(context.Context) error { return errors.New("db down") }})
	rec = down.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Run(ctx, srv) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
