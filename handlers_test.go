package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*App, *MemDB) {
	t.Helper()
	db := NewMemoryDB()
	// generous rate limit so tests never trip it
	return NewApp(db, NewTokens(testKeys(t)), "localhost", 10000), db
}

func doRequest(t *testing.T, app *App, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, payload)
	req.RemoteAddr = "192.0.2.1:1234"
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	app.routes().ServeHTTP(rr, req)
	return rr
}

func responseCookies(rr *httptest.ResponseRecorder) map[string]*http.Cookie {
	res := http.Response{Header: rr.Header()}
	out := map[string]*http.Cookie{}
	for _, c := range res.Cookies() {
		out[c.Name] = c
	}
	return out
}

func register(t *testing.T, app *App, email, password string) (map[string]*http.Cookie, int64) {
	t.Helper()
	rr := doRequest(t, app, "POST", "/api/auth/register", map[string]string{
		"firstName": "Test",
		"lastName":  "User",
		"email":     email,
		"password":  password,
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var user User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &user))
	return responseCookies(rr), user.ID
}

// adminSession seeds an admin user and returns a valid access cookie for it.
func adminSession(t *testing.T, app *App, db *MemDB) *http.Cookie {
	t.Helper()
	hash, err := hashPassword("adminpass123")
	require.NoError(t, err)
	admin, err := db.CreateUser(&User{Email: "admin@x.com", Password: hash, Role: RoleAdmin})
	require.NoError(t, err)
	access, err := app.Tokens.IssueAccessToken(admin.ID, admin.Role)
	require.NoError(t, err)
	return &http.Cookie{Name: "accessToken", Value: access}
}

func TestRegisterCreatesUserAndSession(t *testing.T) {
	app, db := newTestApp(t)

	rr := doRequest(t, app, "POST", "/api/auth/register", map[string]string{
		"firstName": "A",
		"lastName":  "B",
		"email":     "a@x.com",
		"password":  "12345678",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var user User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &user))
	require.Equal(t, "a@x.com", user.Email)
	require.Equal(t, RoleCustomer, user.Role)
	require.NotContains(t, rr.Body.String(), "password")

	users, err := db.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, 1, db.countRefreshTokens())

	cookies := responseCookies(rr)
	for _, name := range []string{"accessToken", "refreshToken"} {
		c := cookies[name]
		require.NotNil(t, c, "missing %s cookie", name)
		require.True(t, c.HttpOnly)
		require.Equal(t, http.SameSiteStrictMode, c.SameSite)
		require.Len(t, strings.Split(c.Value, "."), 3)
	}

	// the refresh cookie's claimed record resolves in the store
	claims, err := app.Tokens.VerifyRefreshToken(cookies["refreshToken"].Value)
	require.NoError(t, err)
	recordID, err := strconv.ParseInt(claims.RecordID, 10, 64)
	require.NoError(t, err)
	rec, err := db.GetRefreshToken(recordID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, user.ID, rec.UserID)
}

func TestRegisterValidation(t *testing.T) {
	app, db := newTestApp(t)

	rr := doRequest(t, app, "POST", "/api/auth/register", map[string]string{
		"firstName": "A", "lastName": "B", "email": "a@x.com", "password": "short",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	register(t, app, "a@x.com", "12345678")
	rr = doRequest(t, app, "POST", "/api/auth/register", map[string]string{
		"firstName": "A", "lastName": "B", "email": "a@x.com", "password": "12345678",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "EMAIL_TAKEN")

	users, err := db.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestLogin(t *testing.T) {
	app, db := newTestApp(t)
	register(t, app, "a@x.com", "12345678")
	before := db.countRefreshTokens()

	rr := doRequest(t, app, "POST", "/api/auth/login", map[string]string{
		"email": "a@x.com", "password": "12345678",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	cookies := responseCookies(rr)
	require.NotNil(t, cookies["accessToken"])
	require.NotNil(t, cookies["refreshToken"])

	claims, err := app.Tokens.VerifyRefreshToken(cookies["refreshToken"].Value)
	require.NoError(t, err)
	recordID, err := strconv.ParseInt(claims.RecordID, 10, 64)
	require.NoError(t, err)
	rec, err := db.GetRefreshToken(recordID)
	require.NoError(t, err)
	require.NotNil(t, rec)

	// a second login is an independent session
	require.Equal(t, before+1, db.countRefreshTokens())
}

func TestLoginWrongPassword(t *testing.T) {
	app, db := newTestApp(t)
	register(t, app, "a@x.com", "12345678")
	before := db.countRefreshTokens()

	for _, creds := range []map[string]string{
		{"email": "a@x.com", "password": "wrongpass"},
		{"email": "nobody@x.com", "password": "12345678"},
	} {
		rr := doRequest(t, app, "POST", "/api/auth/login", creds)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		// unknown user and wrong password are indistinguishable
		require.Contains(t, rr.Body.String(), "INVALID_CREDENTIALS")
		require.Empty(t, responseCookies(rr))
	}
	require.Equal(t, before, db.countRefreshTokens())
}

func TestSelf(t *testing.T) {
	app, _ := newTestApp(t)
	cookies, userID := register(t, app, "a@x.com", "12345678")

	rr := doRequest(t, app, "GET", "/api/auth/self", nil, cookies["accessToken"])
	require.Equal(t, http.StatusOK, rr.Code)
	var user User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &user))
	require.Equal(t, userID, user.ID)
	require.NotContains(t, rr.Body.String(), "password")

	// bearer header works for non-browser clients
	req := httptest.NewRequest("GET", "/api/auth/self", nil)
	req.Header.Set("Authorization", "Bearer "+cookies["accessToken"].Value)
	rr2 := httptest.NewRecorder()
	app.routes().ServeHTTP(rr2, req)
	require.Equal(t, http.StatusOK, rr2.Code)

	rr = doRequest(t, app, "GET", "/api/auth/self", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, app, "GET", "/api/auth/self", nil, &http.Cookie{Name: "accessToken", Value: "not.a.token"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRefreshRotation(t *testing.T) {
	app, db := newTestApp(t)
	cookies, userID := register(t, app, "a@x.com", "12345678")
	oldRefresh := cookies["refreshToken"]

	oldClaims, err := app.Tokens.VerifyRefreshToken(oldRefresh.Value)
	require.NoError(t, err)
	oldID, _ := strconv.ParseInt(oldClaims.RecordID, 10, 64)

	rr := doRequest(t, app, "POST", "/api/auth/refresh", nil, oldRefresh)
	require.Equal(t, http.StatusOK, rr.Code)
	fresh := responseCookies(rr)
	require.NotEqual(t, oldRefresh.Value, fresh["refreshToken"].Value)

	// old record gone, new record present, no orphan accumulation
	gone, err := db.GetRefreshToken(oldID)
	require.NoError(t, err)
	require.Nil(t, gone)

	newClaims, err := app.Tokens.VerifyRefreshToken(fresh["refreshToken"].Value)
	require.NoError(t, err)
	newID, _ := strconv.ParseInt(newClaims.RecordID, 10, 64)
	rec, err := db.GetRefreshToken(newID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, userID, rec.UserID)
	require.Equal(t, 1, db.countRefreshTokens())

	// rotation is single-use: replaying the rotated token must fail
	rr = doRequest(t, app, "POST", "/api/auth/refresh", nil, oldRefresh)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, 1, db.countRefreshTokens())
}

func TestRepeatedRefreshKeepsSingleRecord(t *testing.T) {
	app, db := newTestApp(t)
	cookies, _ := register(t, app, "a@x.com", "12345678")
	refresh := cookies["refreshToken"]

	for i := 0; i < 5; i++ {
		rr := doRequest(t, app, "POST", "/api/auth/refresh", nil, refresh)
		require.Equal(t, http.StatusOK, rr.Code)
		refresh = responseCookies(rr)["refreshToken"]
		require.NotNil(t, refresh)
	}
	require.Equal(t, 1, db.countRefreshTokens())
}

func TestLogoutRevokesSession(t *testing.T) {
	app, db := newTestApp(t)
	cookies, _ := register(t, app, "a@x.com", "12345678")

	rr := doRequest(t, app, "POST", "/api/auth/logout", nil, cookies["accessToken"], cookies["refreshToken"])
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 0, db.countRefreshTokens())

	// both cookies cleared
	cleared := responseCookies(rr)
	require.Less(t, cleared["accessToken"].MaxAge, 0)
	require.Less(t, cleared["refreshToken"].MaxAge, 0)

	// the revoked refresh token is dead even though its expiry is a year out
	rr = doRequest(t, app, "POST", "/api/auth/refresh", nil, cookies["refreshToken"])
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRefreshAfterUserDeleted(t *testing.T) {
	app, db := newTestApp(t)
	cookies, userID := register(t, app, "a@x.com", "12345678")

	require.NoError(t, db.DeleteUser(userID))

	rr := doRequest(t, app, "POST", "/api/auth/refresh", nil, cookies["refreshToken"])
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAccessTokenNotAcceptedAsRefresh(t *testing.T) {
	app, _ := newTestApp(t)
	cookies, _ := register(t, app, "a@x.com", "12345678")

	rr := doRequest(t, app, "POST", "/api/auth/refresh", nil,
		&http.Cookie{Name: "refreshToken", Value: cookies["accessToken"].Value})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	app, db := newTestApp(t)
	register(t, app, "a@x.com", "12345678")

	login := func() *http.Cookie {
		rr := doRequest(t, app, "POST", "/api/auth/login", map[string]string{
			"email": "a@x.com", "password": "12345678",
		})
		require.Equal(t, http.StatusOK, rr.Code)
		return responseCookies(rr)["refreshToken"]
	}
	first := login()
	second := login()
	require.Equal(t, 3, db.countRefreshTokens()) // register + two logins

	// logging out one session leaves the other usable
	rrLogout := doRequest(t, app, "POST", "/api/auth/logout", nil,
		&http.Cookie{Name: "accessToken", Value: mustAccessToken(t, app, db, "a@x.com")}, first)
	require.Equal(t, http.StatusOK, rrLogout.Code)

	rr := doRequest(t, app, "POST", "/api/auth/refresh", nil, second)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = doRequest(t, app, "POST", "/api/auth/refresh", nil, first)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func mustAccessToken(t *testing.T, app *App, db *MemDB, email string) string {
	t.Helper()
	u, err := db.GetUserByEmail(email)
	require.NoError(t, err)
	require.NotNil(t, u)
	access, err := app.Tokens.IssueAccessToken(u.ID, u.Role)
	require.NoError(t, err)
	return access
}

func TestAuthorizationGate(t *testing.T) {
	app, db := newTestApp(t)
	customerCookies, _ := register(t, app, "customer@x.com", "12345678")
	adminCookie := adminSession(t, app, db)

	body := map[string]string{"name": "Acme", "address": "1 Main St"}

	// no credentials: who are you
	rr := doRequest(t, app, "POST", "/api/tenants", body)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	// customer: we know who you are, you may not do this
	rr = doRequest(t, app, "POST", "/api/tenants", body, customerCookies["accessToken"])
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Contains(t, rr.Body.String(), "FORBIDDEN")

	// admin: allowed
	rr = doRequest(t, app, "POST", "/api/tenants", body, adminCookie)
	require.Equal(t, http.StatusCreated, rr.Code)

	// tenant listing is public
	rr = doRequest(t, app, "GET", "/api/tenants", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminUserCRUD(t *testing.T) {
	app, db := newTestApp(t)
	adminCookie := adminSession(t, app, db)

	rr := doRequest(t, app, "POST", "/api/tenants", map[string]string{"name": "Acme", "address": "1 Main St"}, adminCookie)
	require.Equal(t, http.StatusCreated, rr.Code)
	var tenant Tenant
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tenant))

	rr = doRequest(t, app, "POST", "/api/users", map[string]interface{}{
		"firstName": "M", "lastName": "N", "email": "mgr@x.com",
		"password": "12345678", "role": RoleManager, "tenantId": tenant.ID,
	}, adminCookie)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, RoleManager, created.Role)
	require.NotNil(t, created.TenantID)

	rr = doRequest(t, app, "GET", fmt.Sprintf("/api/users/%d", created.ID), nil, adminCookie)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, app, "PATCH", fmt.Sprintf("/api/users/%d", created.ID), map[string]interface{}{
		"firstName": "M", "lastName": "N", "role": RoleAdmin,
	}, adminCookie)
	require.Equal(t, http.StatusOK, rr.Code)
	updated, err := db.GetUserByID(created.ID)
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, updated.Role)

	rr = doRequest(t, app, "GET", "/api/users", nil, adminCookie)
	require.Equal(t, http.StatusOK, rr.Code)

	// unknown role rejected
	rr = doRequest(t, app, "POST", "/api/users", map[string]interface{}{
		"email": "x@x.com", "password": "12345678", "role": "superuser",
	}, adminCookie)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	// unknown tenant rejected
	rr = doRequest(t, app, "POST", "/api/users", map[string]interface{}{
		"email": "y@x.com", "password": "12345678", "role": RoleManager, "tenantId": 9999,
	}, adminCookie)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteUserRevokesSessions(t *testing.T) {
	app, db := newTestApp(t)
	adminCookie := adminSession(t, app, db)
	cookies, userID := register(t, app, "victim@x.com", "12345678")

	rr := doRequest(t, app, "DELETE", fmt.Sprintf("/api/users/%d", userID), nil, adminCookie)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 0, db.countRefreshTokens())

	rr = doRequest(t, app, "POST", "/api/auth/refresh", nil, cookies["refreshToken"])
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestTenantCRUD(t *testing.T) {
	app, db := newTestApp(t)
	adminCookie := adminSession(t, app, db)

	rr := doRequest(t, app, "POST", "/api/tenants", map[string]string{"name": "Acme", "address": "1 Main St"}, adminCookie)
	require.Equal(t, http.StatusCreated, rr.Code)
	var tenant Tenant
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tenant))

	rr = doRequest(t, app, "GET", fmt.Sprintf("/api/tenants/%d", tenant.ID), nil, adminCookie)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, app, "PATCH", fmt.Sprintf("/api/tenants/%d", tenant.ID),
		map[string]string{"name": "Acme Corp", "address": "2 Side St"}, adminCookie)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, app, "DELETE", fmt.Sprintf("/api/tenants/%d", tenant.ID), nil, adminCookie)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, app, "GET", fmt.Sprintf("/api/tenants/%d", tenant.ID), nil, adminCookie)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(t, app, "GET", "/api/tenants/notanumber", nil, adminCookie)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRateLimit(t *testing.T) {
	db := NewMemoryDB()
	app := NewApp(db, NewTokens(testKeys(t)), "localhost", 1)

	body := map[string]string{"email": "a@x.com", "password": "12345678"}
	rr := doRequest(t, app, "POST", "/api/auth/login", body)
	require.Equal(t, http.StatusBadRequest, rr.Code) // limiter passed, no such user

	rr = doRequest(t, app, "POST", "/api/auth/login", body)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
}
