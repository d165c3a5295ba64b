package main

import (
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"
)

// DB is the persistence contract the service is built against. Every adapter
// must keep refresh token ids unique and non-reusable: a deleted id is never
// handed out again while a token referencing it could still be presented.
type DB interface {
	Init() error
	// User operations
	CreateUser(u *User) (*User, error)
	GetUserByEmail(email string) (*User, error)
	GetUserByID(id int64) (*User, error)
	ListUsers() ([]*User, error)
	UpdateUser(id int64, upd UserUpdate) error
	DeleteUser(id int64) error
	// Tenant operations
	CreateTenant(name, address string) (*Tenant, error)
	GetTenantByID(id int64) (*Tenant, error)
	ListTenants() ([]*Tenant, error)
	UpdateTenant(id int64, name, address string) error
	DeleteTenant(id int64) error
	// Refresh token operations. Delete is idempotent: removing an absent
	// record is not an error.
	CreateRefreshToken(userID int64, expiresAt time.Time) (*RefreshTokenRecord, error)
	GetRefreshToken(id int64) (*RefreshTokenRecord, error)
	DeleteRefreshToken(id int64) error
	DeleteRefreshTokensForUser(userID int64) error
	DeleteExpiredRefreshTokens(now time.Time) (int64, error)
}

// Memory DB, used by unit tests and local development. Ids come from
// monotonic counters so they behave like the database sequences of the real
// adapters.
type MemDB struct {
	mu       sync.Mutex
	users    map[int64]*User
	tenants  map[int64]*Tenant
	tokens   map[int64]*RefreshTokenRecord
	userSeq  int64
	tenSeq   int64
	tokenSeq int64
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		users:   map[int64]*User{},
		tenants: map[int64]*Tenant{},
		tokens:  map[int64]*RefreshTokenRecord{},
	}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) CreateUser(u *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return nil, ErrEmailTaken
		}
	}
	m.userSeq++
	stored := *u
	stored.ID = m.userSeq
	stored.CreatedAt = time.Now()
	m.users[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (m *MemDB) GetUserByEmail(email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemDB) GetUserByID(id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		out := *u
		return &out, nil
	}
	return nil, nil
}

func (m *MemDB) ListUsers() ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out := *u
		users = append(users, &out)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MemDB) UpdateUser(id int64, upd UserUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	u.FirstName = upd.FirstName
	u.LastName = upd.LastName
	u.Role = upd.Role
	u.TenantID = upd.TenantID
	return nil
}

func (m *MemDB) DeleteUser(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *MemDB) CreateTenant(name, address string) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenSeq++
	t := &Tenant{ID: m.tenSeq, Name: name, Address: address, CreatedAt: time.Now()}
	m.tenants[t.ID] = t
	out := *t
	return &out, nil
}

func (m *MemDB) GetTenantByID(id int64) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[id]; ok {
		out := *t
		return &out, nil
	}
	return nil, nil
}

func (m *MemDB) ListTenants() ([]*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenants := make([]*Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out := *t
		tenants = append(tenants, &out)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].ID < tenants[j].ID })
	return tenants, nil
}

func (m *MemDB) UpdateTenant(id int64, name, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[id]; ok {
		t.Name = name
		t.Address = address
	}
	return nil
}

func (m *MemDB) DeleteTenant(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, id)
	return nil
}

func (m *MemDB) CreateRefreshToken(userID int64, expiresAt time.Time) (*RefreshTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenSeq++
	rec := &RefreshTokenRecord{ID: m.tokenSeq, UserID: userID, IssuedAt: time.Now(), ExpiresAt: expiresAt}
	m.tokens[rec.ID] = rec
	out := *rec
	return &out, nil
}

func (m *MemDB) GetRefreshToken(id int64) (*RefreshTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.tokens[id]; ok {
		out := *rec
		return &out, nil
	}
	return nil, nil
}

func (m *MemDB) DeleteRefreshToken(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

func (m *MemDB) DeleteRefreshTokensForUser(userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.tokens {
		if rec.UserID == userID {
			delete(m.tokens, id)
		}
	}
	return nil
}

func (m *MemDB) DeleteExpiredRefreshTokens(now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.tokens {
		if rec.ExpiresAt.Before(now) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

// countRefreshTokens is a test helper; not part of the DB contract.
func (m *MemDB) countRefreshTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// SQLite DB
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	// AUTOINCREMENT keeps rowids monotonic so deleted refresh token ids are
	// never reassigned.
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tenants (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT UNIQUE NOT NULL, address TEXT NOT NULL, created_at TEXT DEFAULT (datetime('now')));`,
		`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, first_name TEXT, last_name TEXT, email TEXT UNIQUE NOT NULL, password TEXT NOT NULL, role TEXT NOT NULL, tenant_id INTEGER REFERENCES tenants(id) ON DELETE SET NULL, created_at TEXT DEFAULT (datetime('now')));`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE, issued_at TIMESTAMP NOT NULL, expires_at TIMESTAMP NOT NULL);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) CreateUser(u *User) (*User, error) {
	res, err := s.db.Exec(`INSERT INTO users(first_name,last_name,email,password,role,tenant_id) VALUES(?,?,?,?,?,?)`,
		u.FirstName, u.LastName, u.Email, u.Password, u.Role, u.TenantID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	id, _ := res.LastInsertId()
	out := *u
	out.ID = id
	out.CreatedAt = time.Now()
	return &out, nil
}

func (s *SQLiteDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	var created string
	var tenantID sql.NullInt64
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &tenantID, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if tenantID.Valid {
		u.TenantID = &tenantID.Int64
	}
	return &u, nil
}

func (s *SQLiteDB) GetUserByEmail(email string) (*User, error) {
	row := s.db.QueryRow(`SELECT id,first_name,last_name,email,password,role,tenant_id,created_at FROM users WHERE email = ?`, email)
	return s.scanUser(row)
}

func (s *SQLiteDB) GetUserByID(id int64) (*User, error) {
	row := s.db.QueryRow(`SELECT id,first_name,last_name,email,password,role,tenant_id,created_at FROM users WHERE id = ?`, id)
	return s.scanUser(row)
}

func (s *SQLiteDB) ListUsers() ([]*User, error) {
	rows, err := s.db.Query(`SELECT id,first_name,last_name,email,password,role,tenant_id,created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		var u User
		var created string
		var tenantID sql.NullInt64
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &tenantID, &created); err != nil {
			return nil, err
		}
		if tenantID.Valid {
			u.TenantID = &tenantID.Int64
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *SQLiteDB) UpdateUser(id int64, upd UserUpdate) error {
	_, err := s.db.Exec(`UPDATE users SET first_name = ?, last_name = ?, role = ?, tenant_id = ? WHERE id = ?`,
		upd.FirstName, upd.LastName, upd.Role, upd.TenantID, id)
	return err
}

func (s *SQLiteDB) DeleteUser(id int64) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	return err
}

func (s *SQLiteDB) CreateTenant(name, address string) (*Tenant, error) {
	res, err := s.db.Exec(`INSERT INTO tenants(name,address) VALUES(?,?)`, name, address)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &Tenant{ID: id, Name: name, Address: address, CreatedAt: time.Now()}, nil
}

func (s *SQLiteDB) GetTenantByID(id int64) (*Tenant, error) {
	row := s.db.QueryRow(`SELECT id,name,address,created_at FROM tenants WHERE id = ?`, id)
	var t Tenant
	var created string
	if err := row.Scan(&t.ID, &t.Name, &t.Address, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteDB) ListTenants() ([]*Tenant, error) {
	rows, err := s.db.Query(`SELECT id,name,address,created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []*Tenant
	for rows.Next() {
		var t Tenant
		var created string
		if err := rows.Scan(&t.ID, &t.Name, &t.Address, &created); err != nil {
			return nil, err
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

func (s *SQLiteDB) UpdateTenant(id int64, name, address string) error {
	_, err := s.db.Exec(`UPDATE tenants SET name = ?, address = ? WHERE id = ?`, name, address, id)
	return err
}

func (s *SQLiteDB) DeleteTenant(id int64) error {
	_, err := s.db.Exec(`DELETE FROM tenants WHERE id = ?`, id)
	return err
}

func (s *SQLiteDB) CreateRefreshToken(userID int64, expiresAt time.Time) (*RefreshTokenRecord, error) {
	issued := time.Now()
	res, err := s.db.Exec(`INSERT INTO refresh_tokens(user_id,issued_at,expires_at) VALUES(?,?,?)`, userID, issued, expiresAt)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &RefreshTokenRecord{ID: id, UserID: userID, IssuedAt: issued, ExpiresAt: expiresAt}, nil
}

func (s *SQLiteDB) GetRefreshToken(id int64) (*RefreshTokenRecord, error) {
	row := s.db.QueryRow(`SELECT id,user_id,issued_at,expires_at FROM refresh_tokens WHERE id = ?`, id)
	var rec RefreshTokenRecord
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.IssuedAt, &rec.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteDB) DeleteRefreshToken(id int64) error {
	_, err := s.db.Exec(`DELETE FROM refresh_tokens WHERE id = ?`, id)
	return err
}

func (s *SQLiteDB) DeleteRefreshTokensForUser(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
	return err
}

func (s *SQLiteDB) DeleteExpiredRefreshTokens(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM refresh_tokens WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
