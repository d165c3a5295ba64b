package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

const (
	accessCookieMaxAge  = int(accessTokenTTL / time.Second)
	refreshCookieMaxAge = int(refreshTokenTTL / time.Second)
)

func (a *App) setAuthCookies(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "accessToken",
		Value:    access,
		Domain:   a.cookieDomain,
		Path:     "/",
		MaxAge:   accessCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "refreshToken",
		Value:    refresh,
		Domain:   a.cookieDomain,
		Path:     "/",
		MaxAge:   refreshCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *App) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{"accessToken", "refreshToken"} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Domain:   a.cookieDomain,
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

// issueSession persists a fresh refresh token record and sets both auth
// cookies. The refresh token is bound to the record's server-assigned id.
func (a *App) issueSession(w http.ResponseWriter, user *User) error {
	rec, err := a.DB.CreateRefreshToken(user.ID, time.Now().Add(refreshTokenTTL))
	if err != nil {
		return fmt.Errorf("%w: create refresh record: %v", ErrPersistence, err)
	}
	refresh, err := a.Tokens.IssueRefreshToken(user.ID, user.Role, rec.ID)
	if err != nil {
		return err
	}
	access, err := a.Tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return err
	}
	a.setAuthCookies(w, access, refresh)
	return nil
}

// HandleRegister creates a customer account and starts a session.
// POST /api/auth/register
func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.FirstName == "" || req.LastName == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "First name, last name, email and password are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Password must be at least 8 characters")
		return
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		writeKindError(w, err)
		return
	}
	user, err := a.DB.CreateUser(&User{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  hashed,
		Role:      RoleCustomer,
	})
	if err != nil {
		writeKindError(w, err)
		return
	}
	log.Printf("user registered: %d", user.ID)

	if err := a.issueSession(w, user); err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// HandleLogin verifies credentials and starts a session. Unknown email and
// wrong password are deliberately indistinguishable.
// POST /api/auth/login
func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}

	user, err := a.DB.GetUserByEmail(req.Email)
	if err != nil {
		writeKindError(w, fmt.Errorf("%w: user lookup: %v", ErrPersistence, err))
		return
	}
	if user == nil || !comparePassword(user.Password, req.Password) {
		writeKindError(w, ErrInvalidCredentials)
		return
	}

	if err := a.issueSession(w, user); err != nil {
		writeKindError(w, err)
		return
	}
	log.Printf("user logged in: %d", user.ID)
	writeJSON(w, http.StatusOK, user)
}

// HandleSelf returns the authenticated user.
// GET /api/auth/self
func (a *App) HandleSelf(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		writeKindError(w, ErrUnauthenticated)
		return
	}
	user, err := a.DB.GetUserByID(id.UserID)
	if err != nil {
		writeKindError(w, fmt.Errorf("%w: user lookup: %v", ErrPersistence, err))
		return
	}
	if user == nil {
		writeKindError(w, ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleRefresh rotates the session: a new record is persisted before the old
// one is deleted, so a crash in between can leave two live records but never
// zero. The presented refresh token became single-use the moment its record
// was deleted.
// POST /api/auth/refresh
func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		writeKindError(w, ErrUnauthenticated)
		return
	}

	user, err := a.DB.GetUserByID(id.UserID)
	if err != nil {
		writeKindError(w, fmt.Errorf("%w: user lookup: %v", ErrPersistence, err))
		return
	}
	if user == nil {
		// subject deleted since the token was issued
		writeKindError(w, ErrUnauthenticated)
		return
	}

	newRec, err := a.DB.CreateRefreshToken(user.ID, time.Now().Add(refreshTokenTTL))
	if err != nil {
		writeKindError(w, fmt.Errorf("%w: create refresh record: %v", ErrPersistence, err))
		return
	}
	if err := a.DB.DeleteRefreshToken(id.RefreshRecordID); err != nil {
		writeKindError(w, fmt.Errorf("%w: delete old refresh record: %v", ErrPersistence, err))
		return
	}

	refresh, err := a.Tokens.IssueRefreshToken(user.ID, user.Role, newRec.ID)
	if err != nil {
		writeKindError(w, err)
		return
	}
	access, err := a.Tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		writeKindError(w, err)
		return
	}
	a.setAuthCookies(w, access, refresh)
	writeJSON(w, http.StatusOK, map[string]int64{"id": user.ID})
}

// HandleLogout revokes the session's refresh record and clears both cookies.
// The access token stays valid until its own short expiry; that window is
// bounded by the 1 hour TTL.
// POST /api/auth/logout
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok || id.RefreshRecordID == 0 {
		writeKindError(w, ErrUnauthenticated)
		return
	}
	if err := a.DB.DeleteRefreshToken(id.RefreshRecordID); err != nil {
		writeKindError(w, fmt.Errorf("%w: delete refresh record: %v", ErrPersistence, err))
		return
	}
	log.Printf("user logged out: %d", id.UserID)
	a.clearAuthCookies(w)
	writeSuccess(w, http.StatusOK, map[string]bool{"loggedOut": true})
}
