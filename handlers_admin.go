package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// HandleCreateUser creates a user with an explicit role and optional tenant.
// POST /api/users
func (a *App) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		Role      string `json:"role"`
		TenantID  *int64 `json:"tenantId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Password must be at least 8 characters")
		return
	}
	if !ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown role")
		return
	}
	if req.TenantID != nil {
		tenant, err := a.DB.GetTenantByID(*req.TenantID)
		if err != nil {
			writeKindError(w, fmt.Errorf("%w: tenant lookup: %v", ErrPersistence, err))
			return
		}
		if tenant == nil {
			writeKindError(w, ErrNotFound)
			return
		}
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
		Role:      req.Role,
		TenantID:  req.TenantID,
	})
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// HandleListUsers lists all users.
// GET /api/users
func (a *App) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.DB.ListUsers()
	if err != nil {
		writeKindError(w, fmt.Errorf("%w: list users: %v", ErrPersistence, err))
		return
	}
	if users == nil {
		users = []*User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleGetUser returns one user by id.
// GET /api/users/{id}
func (a *App) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user id")
		return
	}
	user, err := a.DB.GetUserByID(id)
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

// HandleUpdateUser updates name, role and tenant of a user.
// PATCH /api/users/{id}
func (a *App) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user id")
		return
	}
	var req struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Role      string `json:"role"`
		TenantID  *int64 `json:"tenantId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if !ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown role")
		return
	}

	user, err := a.DB.GetUserByID(id)
	if err != nil {
		writeKindError(w, fmt.Errorf("%w: user lookup: %v", ErrPersistence, err))
		return
	}
	if user == nil {
		writeKindError(w, ErrNotFound)
		return
	}
	if err := a.DB.UpdateUser(id, UserUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
		TenantID:  req.TenantID,
	}); err != nil {
		writeKindError(w, fmt.Errorf("%w: update user: %v", ErrPersistence, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

// HandleDeleteUser deletes a user together with their refresh token records,
// so any outstanding refresh tokens stop working immediately.
// DELETE /api/users/{id}
func (a *App) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user id")
		return
	}
	user, err := a.DB.GetUserByID(id)
	if err != nil {
		writeKindError(w, fmt.Errorf("%w: user lookup: %v", ErrPersistence, err))
		return
	}
	if user == nil {
		writeKindError(w, ErrNotFound)
		return
	}
	if err := a.DB.DeleteRefreshTokensForUser(id); err != nil {
		writeKindError(w, fmt.Errorf("%w: revoke sessions: %v", ErrPersistence, err))
		return
	}
	if err := a.DB.DeleteUser(id); err != nil {
		writeKindError(w, fmt.Errorf("%w: delete user: %v", ErrPersistence, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

// HandleCreateTenant creates a tenant.
// POST /api/tenants
func (a *App) HandleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Name == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Name and address are required")
		return
	}
	tenant, err := a.DB.CreateTenant(req.Name, req.Address)
	if err != nil {
		writeKindError(w, fmt.Errorf("%w: create tenant: %v", ErrPersistence, err))
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}

// HandleListTenants lists all tenants. Public in line with the original
// service: tenant names are shown on the storefront.
// GET /api/tenants
func (a *App) HandleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := a.DB.ListTenants()
	if err != nil {
		writeKindError(w, fmt.Errorf("%w: list tenants: %v", ErrPersistence, err))
		return
	}
	if tenants == nil {
		tenants = []*Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

// HandleGetTenant returns one tenant by id.
// GET /api/tenants/{id}
func (a *App) HandleGetTenant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid tenant id")
		return
	}
	tenant, err := a.DB.GetTenantByID(id)
	if err != nil {
		writeKindError(w, fmt.Errorf("%w: tenant lookup: %v", ErrPersistence, err))
		return
	}
	if tenant == nil {
		writeKindError(w, ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// HandleUpdateTenant updates a tenant's name and address.
// PATCH /api/tenants/{id}
func (a *App) HandleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid tenant id")
		return
	}
	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Name == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Name and address are required")
		return
	}
	tenant, err := a.DB.GetTenantByID(id)
	if err != nil {
		writeKindError(w, fmt.Errorf("%w: tenant lookup: %v", ErrPersistence, err))
		return
	}
	if tenant == nil {
		writeKindError(w, ErrNotFound)
		return
	}
	if err := a.DB.UpdateTenant(id, req.Name, req.Address); err != nil {
		writeKindError(w, fmt.Errorf("%w: update tenant: %v", ErrPersistence, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

// HandleDeleteTenant deletes a tenant.
// DELETE /api/tenants/{id}
func (a *App) HandleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid tenant id")
		return
	}
	tenant, err := a.DB.GetTenantByID(id)
	if err != nil {
		writeKindError(w, fmt.Errorf("%w: tenant lookup: %v", ErrPersistence, err))
		return
	}
	if tenant == nil {
		writeKindError(w, ErrNotFound)
		return
	}
	if err := a.DB.DeleteTenant(id); err != nil {
		writeKindError(w, fmt.Errorf("%w: delete tenant: %v", ErrPersistence, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}
