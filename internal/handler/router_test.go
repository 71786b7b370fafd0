package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/handler"
	"github.com/boddenberg/budget-tracker-go/internal/infra/cache"
	"github.com/boddenberg/budget-tracker-go/internal/infra/graph"
	"github.com/boddenberg/budget-tracker-go/internal/infra/mail"
	"github.com/boddenberg/budget-tracker-go/internal/infra/observability"
	"github.com/boddenberg/budget-tracker-go/internal/infra/sqlstore"
	"github.com/boddenberg/budget-tracker-go/internal/port"
	"github.com/boddenberg/budget-tracker-go/internal/service"

	"go.uber.org/zap"
)

// --- Mocks ---

type mockLLM struct {
	answer string
	err    error
}

func (m *mockLLM) Complete(context.Context, []domain.ChatMessage) (*domain.Completion, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Completion{Content: m.answer, TokensUsed: domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// --- Harness ---

type testServer struct {
	router  http.Handler
	llm     *mockLLM
	metrics *observability.Metrics
}

type options struct {
	authMax int
	pingers map[string]port.Pinger
}

func newTestServer(t *testing.T, opts options) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	dsn := "file:" + filepath.Join(t.TempDir(), "budget.db") + "?_pragma=foreign_keys(1)"
	db, err := sqlstore.Open(ctx, "sqlite", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	respCache := cache.NewStore(5 * time.Minute)
	limiter := cache.NewLimiter()
	t.Cleanup(respCache.Close)
	t.Cleanup(limiter.Close)

	metrics := observability.NewMetrics()
	purchases := graph.NewMemoryStore()
	categories := sqlstore.NewCategoryStore(db)
	llm := &mockLLM{answer: "Spend less on takeout."}

	authSvc := service.NewAuthService(sqlstore.NewUserStore(db), mail.NewLogMailer(logger), service.AuthConfig{
		JWTSecret:   "test-secret",
		AccessTTL:   time.Hour,
		ResetTTL:    time.Hour,
		FrontendURL: "http://app.local",
	}, logger)

	if opts.authMax == 0 {
		opts.authMax = 100
	}
	if opts.pingers == nil {
		opts.pingers = map[string]port.Pinger{"database": db, "graph": purchases}
	}

	router := handler.NewRouter(handler.Deps{
		Auth:          authSvc,
		Categories:    service.NewCategoryService(categories, purchases, respCache, metrics, logger),
		Purchases:     service.NewPurchaseService(purchases, categories, nil, respCache, metrics, logger),
		Stats:         service.NewStatsService(purchases, categories, respCache, 0, metrics, logger),
		Assistant:     service.NewAssistant(nil, llm, cache.NewHistory(50), metrics, logger),
		Limiter:       limiter,
		AuthRateLimit: handler.RateLimitConfig{Max: opts.authMax, Window: time.Minute},
		APIRateLimit:  handler.RateLimitConfig{Max: 1000, Window: time.Minute},
		Pingers:       opts.pingers,
		CORSOrigins:   []string{"*"},
		Metrics:       metrics,
		Logger:        logger,
	})

	return &testServer{router: router, llm: llm, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// signup registers and logs in, returning the session token.
func (s *testServer) signup(t *testing.T, email string) string {
	t.Helper()
	if rec := s.do(t, http.MethodPost, "/api/register", "", map[string]string{"email": email, "password": "secret1"}); rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	rec := s.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": email, "password": "secret1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	return decode[struct {
		Token string `json:"token"`
	}](t, rec).Token
}

// --- Operational ---

func TestHealthz(t *testing.T) {
	s := newTestServer(t, options{})

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	s := newTestServer(t, options{})

	rec := s.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	status := decode[domain.HealthStatus](t, rec)
	if status.Status != "healthy" || len(status.Services) != 2 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestReadyz_StoreDown(t *testing.T) {
	s := newTestServer(t, options{pingers: map[string]port.Pinger{
		"cache": pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
		"graph": pingerFunc(func(context.Context) error { return nil }),
	}})

	rec := s.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	status := decode[domain.HealthStatus](t, rec)
	if status.Services[0].Name != "cache" || status.Services[0].Error == "" {
		t.Errorf("unexpected services: %+v", status.Services)
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, options{})
	s.metrics.IncrRateLimited("api")

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "budget_rate_limited_total") {
		t.Error("expected application metrics in the exposition")
	}
}

// --- Auth ---

func TestAuthFlow_CookieAndBearer(t *testing.T) {
	s := newTestServer(t, options{})

	rec := s.do(t, http.MethodPost, "/api/register", "", map[string]string{"email": "ana@example.com", "password": "secret1", "name": "Ana"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Errorf("response leaks the password hash: %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "ana@example.com", "password": "secret1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d", rec.Code)
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == handler.AuthCookie {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly || cookie.SameSite != http.SameSiteStrictMode || cookie.MaxAge != 3600 {
		t.Fatalf("unexpected auth cookie: %+v", cookie)
	}

	// cookie auth
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookie)
	meRec := httptest.NewRecorder()
	s.router.ServeHTTP(meRec, req)
	if meRec.Code != http.StatusOK {
		t.Fatalf("me via cookie: %d %s", meRec.Code, meRec.Body.String())
	}
	if me := decode[domain.User](t, meRec); me.Email != "ana@example.com" {
		t.Errorf("unexpected user: %+v", me)
	}

	// bearer auth
	token := decode[struct {
		Token string `json:"token"`
	}](t, rec).Token
	if rec := s.do(t, http.MethodGet, "/api/me", token, nil); rec.Code != http.StatusOK {
		t.Errorf("me via bearer: %d", rec.Code)
	}

	// logout clears the cookie
	rec = s.do(t, http.MethodPost, "/api/logout", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Errorf("unexpected logout: %d %q", rec.Code, rec.Header().Get("Set-Cookie"))
	}
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t, options{})
	s.signup(t, "ana@example.com")

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"duplicate email", http.MethodPost, "/api/register", "", map[string]string{"email": "ana@example.com", "password": "secret1"}, http.StatusConflict},
		{"short password", http.MethodPost, "/api/register", "", map[string]string{"email": "bob@example.com", "password": "123"}, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/register", "", "{", http.StatusBadRequest},
		{"wrong password", http.MethodPost, "/api/login", "", map[string]string{"email": "ana@example.com", "password": "nope123"}, http.StatusUnauthorized},
		{"no token", http.MethodGet, "/api/me", "", nil, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/categories", "garbage", nil, http.StatusUnauthorized},
		{"bad reset token", http.MethodPost, "/api/reset-password", "", map[string]string{"token": "x", "newPassword": "secret2"}, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.token, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if body := decode[map[string]any](t, rec); body["error"] == "" || body["error"] == nil {
				t.Errorf("expected an error message, got %v", body)
			}
		})
	}
}

func TestForgetPassword_GenericAnswer(t *testing.T) {
	s := newTestServer(t, options{})
	s.signup(t, "ana@example.com")

	known := s.do(t, http.MethodPost, "/api/forget-password", "", map[string]string{"email": "ana@example.com"})
	unknown := s.do(t, http.MethodPost, "/api/forget-password", "", map[string]string{"email": "nobody@example.com"})

	if known.Code != http.StatusOK || unknown.Code != http.StatusOK || known.Body.String() != unknown.Body.String() {
		t.Errorf("answers differ: %d %s / %d %s", known.Code, known.Body.String(), unknown.Code, unknown.Body.String())
	}
}

func TestRateLimit_Auth(t *testing.T) {
	s := newTestServer(t, options{authMax: 2})
	body := map[string]string{"email": "ana@example.com", "password": "whatever"}

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/login", "", body)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("missing limit header")
		}
	}

	rec := s.do(t, http.MethodPost, "/api/login", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	got := decode[struct {
		Error     string `json:"error"`
		Remaining int    `json:"remaining"`
		Reset     int64  `json:"reset"`
	}](t, rec)
	if got.Error != "Too Many Requests" || got.Remaining != 0 || got.Reset <= time.Now().UnixMilli() {
		t.Errorf("unexpected 429 body: %+v", got)
	}
}

// --- Budget ---

func TestCategoriesAndPurchasesFlow(t *testing.T) {
	s := newTestServer(t, options{})
	token := s.signup(t, "ana@example.com")
	intruder := s.signup(t, "eve@example.com")

	rec := s.do(t, http.MethodPost, "/api/categories", token, map[string]string{"name": "Food", "color": "#00ff00"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create category: %d %s", rec.Code, rec.Body.String())
	}
	food := decode[domain.Category](t, rec)

	if rec := s.do(t, http.MethodPost, "/api/categories", token, map[string]string{"name": "Food"}); rec.Code != http.StatusConflict {
		t.Errorf("duplicate category: expected 409, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/purchases", token, map[string]any{"price": 12.5, "date": "2025-02-10", "categoryId": food.ID, "tags": []string{"lunch"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create purchase: %d %s", rec.Code, rec.Body.String())
	}
	p := decode[domain.PurchaseView](t, rec)
	if p.Category.Name != "Food" || p.Category.Color != "#00ff00" {
		t.Errorf("unexpected purchase category: %+v", p.Category)
	}

	if rec := s.do(t, http.MethodPost, "/api/purchases", token, map[string]any{"price": 4, "date": "2025-02-11"}); rec.Code != http.StatusCreated {
		t.Fatalf("create uncategorized: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/purchases", token, map[string]any{"price": 0, "date": "2025-02-11"}); rec.Code != http.StatusBadRequest {
		t.Errorf("zero price: expected 400, got %d", rec.Code)
	}

	// listing
	rec = s.do(t, http.MethodGet, "/api/purchases?categoryId=other", token, nil)
	if list := decode[[]domain.PurchaseView](t, rec); len(list) != 1 || list[0].Category.Name != "Other" {
		t.Errorf("unexpected other list: %+v", list)
	}
	rec = s.do(t, http.MethodGet, "/api/purchases", intruder, nil)
	if list := decode[[]domain.PurchaseView](t, rec); len(list) != 0 {
		t.Errorf("purchases leaked to another user: %+v", list)
	}

	// ownership
	if rec := s.do(t, http.MethodPut, "/api/purchases/"+p.ID, intruder, map[string]any{"price": 1}); rec.Code != http.StatusNotFound {
		t.Errorf("foreign update: expected 404, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/api/categories/"+food.ID, token, nil); rec.Code != http.StatusConflict {
		t.Errorf("delete used category: expected 409, got %d", rec.Code)
	}

	// stats
	rec = s.do(t, http.MethodGet, "/api/purchases/stats", token, nil)
	stats := decode[domain.PurchaseStats](t, rec)
	if stats.TotalAmount != 16.5 || stats.TotalCount != 2 || len(stats.CategoriesStats) != 2 || stats.CategoriesStats[0].Category.Name != "Food" {
		t.Errorf("unexpected stats: %+v", stats)
	}

	rec = s.do(t, http.MethodGet, "/api/purchases/monthly-stats?months=2&endDate=2025-02-28", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("monthly: %d %s", rec.Code, rec.Body.String())
	}
	monthly := decode[domain.MonthlyStats](t, rec)
	if len(monthly.Months) != 2 || monthly.Months[1] != "2025-02" || len(monthly.CategoryStats) != 2 {
		t.Errorf("unexpected monthly stats: %+v", monthly)
	}

	// update + delete
	rec = s.do(t, http.MethodPut, "/api/purchases/"+p.ID, token, map[string]any{"categoryId": "other"})
	if rec.Code != http.StatusOK || decode[domain.PurchaseView](t, rec).CategoryID != nil {
		t.Errorf("clear category: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodDelete, "/api/categories/"+food.ID, token, nil); rec.Code != http.StatusOK {
		t.Errorf("delete unused category: expected 200, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/api/purchases/"+p.ID, token, nil); rec.Code != http.StatusOK {
		t.Errorf("delete purchase: expected 200, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/api/purchases/"+p.ID, token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

// --- Assistant ---

func TestAssistant(t *testing.T) {
	s := newTestServer(t, options{})
	token := s.signup(t, "ana@example.com")

	rec := s.do(t, http.MethodPost, "/api/assistant", token, map[string]string{"question": "How do I save more?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("assistant: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[domain.AssistantResponse](t, rec); got.Answer != "Spend less on takeout." {
		t.Errorf("unexpected answer: %+v", got)
	}

	rec = s.do(t, http.MethodPost, "/api/assistant/raw-query", token, map[string]string{"question": "again"})
	raw := decode[domain.RawQueryResponse](t, rec)
	if len(raw.History) != 2 {
		t.Errorf("expected the previous exchange in history, got %+v", raw.History)
	}

	rec = s.do(t, http.MethodGet, "/api/metrics/assistant", "", nil)
	if snap := decode[domain.AssistantMetrics](t, rec); snap.TotalRequests != 1 || snap.PromptTokens != 10 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	if rec := s.do(t, http.MethodPost, "/api/assistant", token, map[string]string{"question": ""}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty question: expected 400, got %d", rec.Code)
	}
}

func TestAssistant_UpstreamFailures(t *testing.T) {
	s := newTestServer(t, options{})
	token := s.signup(t, "ana@example.com")

	for _, tc := range []struct {
		err  error
		want int
	}{
		{&domain.ErrExternalService{Service: "mistral", Err: errors.New("HTTP 500")}, http.StatusBadGateway},
		{&domain.ErrCircuitOpen{Service: "mistral"}, http.StatusServiceUnavailable},
		{&domain.ErrTimeout{Operation: "mistral"}, http.StatusGatewayTimeout},
	} {
		s.llm.err = tc.err
		rec := s.do(t, http.MethodPost, "/api/assistant", token, map[string]string{"question": "help"})
		if rec.Code != tc.want {
			t.Errorf("%T: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}
