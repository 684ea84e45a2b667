package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/makemny/apiserver/config"
	"github.com/makemny/apiserver/internal/services"
	"github.com/makemny/apiserver/internal/store/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

type testAPI struct {
	handler  http.Handler
	users    *services.UserService
	deposits *services.DepositService
}

type memoryProofs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryProofs) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryProofs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryProofs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	users := services.NewUserService(memory.NewUserRepository(), zerolog.Nop(), services.WithBcryptCost(bcrypt.MinCost))
	deposits := services.NewDepositService(
		memory.NewDepositRepository(),
		zerolog.Nop(),
		services.WithProofStorage(&memoryProofs{objects: make(map[string][]byte)}),
	)

	auth := NewAuthHandler(users, config.SessionConfig{
		Secret:     testSecret,
		TTL:        7 * 24 * time.Hour,
		CookieName: "sid",
	})
	depositHandler := NewDepositHandler(deposits, users)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		AuthRouter(r, auth)
		DepositRouter(r, depositHandler, auth.RequireAuth)
	})

	return &testAPI{handler: r, users: users, deposits: deposits}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: token})
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) register(t *testing.T, phone, password string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/register", map[string]string{"phone": phone, "password": password}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func (a *testAPI) adminToken(t *testing.T) string {
	t.Helper()
	_, err := a.users.EnsureAdmin(context.Background(), "0711111111", "adminpw")
	require.NoError(t, err)

	rec := a.do(t, http.MethodPost, "/api/login", map[string]string{"phone": "0711111111", "password": "adminpw"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func (a *testAPI) submit(t *testing.T, amount any) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/deposit", map[string]any{
		"accountName":   "Jane Doe",
		"accountNumber": "0776000000",
		"amount":        amount,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp SubmitDepositResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.DepositID)
	return resp.DepositID
}

func TestRegisterSetsSessionCookie(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/register", map[string]string{
		"phone": "0700000000", "password": "pw", "firstName": "Jane",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.Equal(t, 7*24*3600, cookies[0].MaxAge)

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, cookies[0].Value, resp.Token)
	assert.Equal(t, "Jane", resp.User.FirstName)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	dup := api.do(t, http.MethodPost, "/api/register", map[string]string{"phone": "0700000000", "password": "other"}, "")
	assert.Equal(t, http.StatusBadRequest, dup.Code)

	missing := api.do(t, http.MethodPost, "/api/register", map[string]string{"phone": "0700000001"}, "")
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	malformed := api.do(t, http.MethodPost, "/api/register", "{", "")
	assert.Equal(t, http.StatusBadRequest, malformed.Code)
}

func TestLoginAndMe(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "0700", "pw")

	bad := api.do(t, http.MethodPost, "/api/login", map[string]string{"phone": "0700", "password": "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
	unknown := api.do(t, http.MethodPost, "/api/login", map[string]string{"phone": "0999", "password": "pw"}, "")
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	missing := api.do(t, http.MethodPost, "/api/login", map[string]string{"phone": "0700"}, "")
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	ok := api.do(t, http.MethodPost, "/api/login", map[string]string{"phone": "0700", "password": "pw"}, "")
	require.Equal(t, http.StatusOK, ok.Code)
	var resp AuthResponse
	require.NoError(t, json.Unmarshal(ok.Body.Bytes(), &resp))

	me := api.do(t, http.MethodGet, "/api/me", nil, resp.Token)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"phone":"0700"`)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/me", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/me", nil, "garbage").Code)
}

func TestExpiredOrForeignTokensAreRejected(t *testing.T) {
	api := newTestAPI(t)
	token := api.register(t, "0700", "pw")

	var resp map[string]any
	me := api.do(t, http.MethodGet, "/api/me", nil, token)
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &resp))
	userID := resp["id"].(string)

	expired, err := issueToken(userID, []byte(testSecret), -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/me", nil, expired).Code)

	foreign, err := issueToken(userID, []byte("another-secret"), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/me", nil, foreign).Code)

	ghost, err := issueToken("no-such-user", []byte(testSecret), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/me", nil, ghost).Code)
}

func TestLogoutClearsCookie(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/logout", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestSubmitDeposit(t *testing.T) {
	api := newTestAPI(t)

	api.submit(t, 75000)
	api.submit(t, "125.50")

	for _, body := range []map[string]any{
		{"accountName": "", "accountNumber": "1", "amount": 10},
		{"accountName": "Jane", "accountNumber": "1", "amount": 0},
		{"accountName": "Jane", "accountNumber": "1", "amount": -3},
		{"accountName": "Jane", "accountNumber": "1"},
	} {
		rec := api.do(t, http.MethodPost, "/api/deposit", body, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	for _, raw := range []string{
		`{"accountName":"Jane","accountNumber":"1","amount":"abc"}`,
		`{"accountName":"Jane","accountNumber":"1","amount":1e100000000}`,
		`{"accountName":"Jane","accountNumber":"1","amount":"1e100000000"}`,
		`{"accountName":"Jane","accountNumber":"1","amount":10000000000000000}`,
		`{"accountName":"Jane","accountNumber":"1","amount":10.123}`,
	} {
		rec := api.do(t, http.MethodPost, "/api/deposit", raw, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, raw)
	}

	list := api.do(t, http.MethodGet, "/api/deposits?status=all", nil, "")
	require.Equal(t, http.StatusOK, list.Code)
	var deposits []map[string]any
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &deposits))
	assert.Len(t, deposits, 2)
}

func TestApproveRejectAuthorizationMatrix(t *testing.T) {
	api := newTestAPI(t)
	userToken := api.register(t, "0700", "pw")
	adminToken := api.adminToken(t)
	id := api.submit(t, 100)

	body := map[string]string{"depositId": id}
	for _, path := range []string{"/api/approve-deposit", "/api/reject-deposit"} {
		assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodPost, path, body, "").Code, path)
		assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPost, path, body, userToken).Code, path)
		assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, path, map[string]string{}, adminToken).Code, path)
		assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, path, map[string]string{"depositId": "unknown"}, adminToken).Code, path)
	}

	approved := api.do(t, http.MethodPost, "/api/approve-deposit", body, adminToken)
	require.Equal(t, http.StatusOK, approved.Code, approved.Body.String())
	assert.Contains(t, approved.Body.String(), `"status":"approved"`)

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, "/api/approve-deposit", body, adminToken).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, "/api/reject-deposit", body, adminToken).Code)

	get := api.do(t, http.MethodGet, "/api/deposits/"+id, nil, "")
	require.Equal(t, http.StatusOK, get.Code)
	assert.Contains(t, get.Body.String(), `"approvedAt"`)
	assert.NotContains(t, get.Body.String(), `"rejectedAt"`)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/deposits/unknown", nil, "").Code)
}

func TestConcurrentApprovalsYieldOneSuccess(t *testing.T) {
	api := newTestAPI(t)
	adminToken := api.adminToken(t)
	id := api.submit(t, 100)

	var wg sync.WaitGroup
	codes := make(chan int, 2)
	for _, path := range []string{"/api/approve-deposit", "/api/approve-deposit"} {
		path := path
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"depositId":"`+id+`"}`))
			req.AddCookie(&http.Cookie{Name: "sid", Value: adminToken})
			api.handler.ServeHTTP(rec, req)
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	var got []int
	for code := range codes {
		got = append(got, code)
	}
	assert.ElementsMatch(t, []int{http.StatusOK, http.StatusNotFound}, got)
}

func TestListingsAndStats(t *testing.T) {
	api := newTestAPI(t)
	adminToken := api.adminToken(t)

	a := api.submit(t, 100)
	b := api.submit(t, "50.5")
	c := api.submit(t, 7)
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/approve-deposit", map[string]string{"depositId": a}, adminToken).Code)
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/approve-deposit", map[string]string{"depositId": b}, adminToken).Code)
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/reject-deposit", map[string]string{"depositId": c}, adminToken).Code)
	api.submit(t, 1)

	pending := api.do(t, http.MethodGet, "/api/pending-deposits", nil, "")
	require.Equal(t, http.StatusOK, pending.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(pending.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "pending", list[0]["status"])

	approved := api.do(t, http.MethodGet, "/api/deposits?status=approved", nil, "")
	require.Equal(t, http.StatusOK, approved.Code)
	require.NoError(t, json.Unmarshal(approved.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/deposits?status=bogus", nil, "").Code)

	mine := api.do(t, http.MethodGet, "/api/approved-deposits?accountName=Jane%20Doe", nil, "")
	require.Equal(t, http.StatusOK, mine.Code)
	require.NoError(t, json.Unmarshal(mine.Body.Bytes(), &list))
	assert.Len(t, list, 2)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/approved-deposits", nil, "").Code)

	stats := api.do(t, http.MethodGet, "/api/deposit-stats", nil, "")
	require.Equal(t, http.StatusOK, stats.Code)
	var got map[string]float64
	require.NoError(t, json.Unmarshal(stats.Body.Bytes(), &got))
	assert.Equal(t, map[string]float64{
		"pending":      1,
		"approved":     2,
		"rejected":     1,
		"totalRevenue": 150.5,
	}, got)
}

func TestProofUploadAndDownload(t *testing.T) {
	api := newTestAPI(t)
	adminToken := api.adminToken(t)
	userToken := api.register(t, "0700", "pw")
	id := api.submit(t, 100)

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	upload := func(data []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("proof", "receipt.png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/deposits/"+id+"/proof", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := upload(png)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var attached struct {
		ProofKey string `json:"proofKey"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &attached))
	assert.True(t, strings.HasPrefix(attached.ProofKey, "deposits/"+id+"/"), attached.ProofKey)
	assert.True(t, strings.HasSuffix(attached.ProofKey, ".png"), attached.ProofKey)

	assert.Equal(t, http.StatusBadRequest, upload([]byte("just some text")).Code)
	assert.Equal(t, http.StatusConflict, upload(png).Code)

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/deposits/"+id+"/proof", nil, "").Code)
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/api/deposits/"+id+"/proof", nil, userToken).Code)

	download := api.do(t, http.MethodGet, "/api/deposits/"+id+"/proof", nil, adminToken)
	require.Equal(t, http.StatusOK, download.Code)
	assert.Equal(t, "image/png", download.Header().Get("Content-Type"))
	assert.Equal(t, png, download.Body.Bytes())

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/reject-deposit", map[string]string{"depositId": id}, adminToken).Code)
	assert.Equal(t, http.StatusNotFound, upload(png).Code)
}
