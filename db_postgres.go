package main

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	if err := p.db.Ping(); err != nil {
		return err
	}
	return nil
}

func (p *PostgresDB) CreateUser(u *User) (*User, error) {
	out := *u
	err := p.db.QueryRow(`INSERT INTO users(first_name,last_name,email,password,role,tenant_id,created_at) VALUES($1,$2,$3,$4,$5,$6,now()) RETURNING id, created_at`,
		u.FirstName, u.LastName, u.Email, u.Password, u.Role, u.TenantID).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &out, nil
}

func (p *PostgresDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	var tenantID sql.NullInt64
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &tenantID, &u.CreatedAt); err != nil {
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

func (p *PostgresDB) GetUserByEmail(email string) (*User, error) {
	row := p.db.QueryRow(`SELECT id,first_name,last_name,email,password,role,tenant_id,created_at FROM users WHERE email = $1`, email)
	return p.scanUser(row)
}

func (p *PostgresDB) GetUserByID(id int64) (*User, error) {
	row := p.db.QueryRow(`SELECT id,first_name,last_name,email,password,role,tenant_id,created_at FROM users WHERE id = $1`, id)
	return p.scanUser(row)
}

func (p *PostgresDB) ListUsers() ([]*User, error) {
	rows, err := p.db.Query(`SELECT id,first_name,last_name,email,password,role,tenant_id,created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		var u User
		var tenantID sql.NullInt64
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &tenantID, &u.CreatedAt); err != nil {
			return nil, err
		}
		if tenantID.Valid {
			u.TenantID = &tenantID.Int64
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (p *PostgresDB) UpdateUser(id int64, upd UserUpdate) error {
	_, err := p.db.Exec(`UPDATE users SET first_name = $1, last_name = $2, role = $3, tenant_id = $4 WHERE id = $5`,
		upd.FirstName, upd.LastName, upd.Role, upd.TenantID, id)
	return err
}

func (p *PostgresDB) DeleteUser(id int64) error {
	_, err := p.db.Exec(`DELETE FROM users WHERE id = $1`, id)
	return err
}

func (p *PostgresDB) CreateTenant(name, address string) (*Tenant, error) {
	t := &Tenant{Name: name, Address: address}
	err := p.db.QueryRow(`INSERT INTO tenants(name,address,created_at) VALUES($1,$2,now()) RETURNING id, created_at`, name, address).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *PostgresDB) GetTenantByID(id int64) (*Tenant, error) {
	row := p.db.QueryRow(`SELECT id,name,address,created_at FROM tenants WHERE id = $1`, id)
	var t Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Address, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (p *PostgresDB) ListTenants() ([]*Tenant, error) {
	rows, err := p.db.Query(`SELECT id,name,address,created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []*Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Address, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

func (p *PostgresDB) UpdateTenant(id int64, name, address string) error {
	_, err := p.db.Exec(`UPDATE tenants SET name = $1, address = $2 WHERE id = $3`, name, address, id)
	return err
}

func (p *PostgresDB) DeleteTenant(id int64) error {
	_, err := p.db.Exec(`DELETE FROM tenants WHERE id = $1`, id)
	return err
}

func (p *PostgresDB) CreateRefreshToken(userID int64, expiresAt time.Time) (*RefreshTokenRecord, error) {
	// BIGSERIAL ids are monotonic and never reused, which is what makes a
	// deleted record a permanent revocation.
	rec := &RefreshTokenRecord{UserID: userID, ExpiresAt: expiresAt}
	err := p.db.QueryRow(`INSERT INTO refresh_tokens(user_id,issued_at,expires_at) VALUES($1,now(),$2) RETURNING id, issued_at`,
		userID, expiresAt).Scan(&rec.ID, &rec.IssuedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PostgresDB) GetRefreshToken(id int64) (*RefreshTokenRecord, error) {
	row := p.db.QueryRow(`SELECT id,user_id,issued_at,expires_at FROM refresh_tokens WHERE id = $1`, id)
	var rec RefreshTokenRecord
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.IssuedAt, &rec.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresDB) DeleteRefreshToken(id int64) error {
	_, err := p.db.Exec(`DELETE FROM refresh_tokens WHERE id = $1`, id)
	return err
}

func (p *PostgresDB) DeleteRefreshTokensForUser(userID int64) error {
	_, err := p.db.Exec(`DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	return err
}

func (p *PostgresDB) DeleteExpiredRefreshTokens(now time.Time) (int64, error) {
	res, err := p.db.Exec(`DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
