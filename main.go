package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "modernc.org/sqlite"

	cfg "github.com/example/tenauth/internal/config"
)

// App wires the persistence layer and the token subsystem into the HTTP
// handlers. All dependencies arrive through the constructor so tests can
// substitute the in-memory DB and throwaway keys.
type App struct {
	DB           DB
	Tokens       *Tokens
	rateLimiter  *RateLimiter
	cookieDomain string
}

func NewApp(db DB, tokens *Tokens, cookieDomain string, rateLimitPerMinute int) *App {
	return &App{
		DB:           db,
		Tokens:       tokens,
		rateLimiter:  NewRateLimiter(rateLimitPerMinute),
		cookieDomain: cookieDomain,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

// routes builds the full router. Credential and token errors are resolved in
// the middleware; the handlers behind Authenticate always see a verified
// identity.
func (a *App) routes() *mux.Router {
	r := mux.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(a.Logging)

	// Health check endpoints (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := a.DB.(interface{ ping() bool }); ok {
			if !p.ping() {
				w.WriteHeader(503)
				w.Write([]byte(`{"ready":false}`))
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ready":true}`))
	}).Methods("GET")

	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.Handle("/register", a.RateLimit(http.HandlerFunc(a.HandleRegister))).Methods("POST")
	auth.Handle("/login", a.RateLimit(http.HandlerFunc(a.HandleLogin))).Methods("POST")
	auth.Handle("/self", a.Authenticate(http.HandlerFunc(a.HandleSelf))).Methods("GET")
	auth.Handle("/refresh", a.ValidateRefreshToken(http.HandlerFunc(a.HandleRefresh))).Methods("POST")
	auth.Handle("/logout", a.Authenticate(a.ParseRefreshToken(http.HandlerFunc(a.HandleLogout)))).Methods("POST")

	adminOnly := a.CanAccess(RoleAdmin)

	users := r.PathPrefix("/api/users").Subrouter()
	users.Use(a.Authenticate, adminOnly)
	users.HandleFunc("", a.HandleCreateUser).Methods("POST")
	users.HandleFunc("", a.HandleListUsers).Methods("GET")
	users.HandleFunc("/{id}", a.HandleGetUser).Methods("GET")
	users.HandleFunc("/{id}", a.HandleUpdateUser).Methods("PATCH")
	users.HandleFunc("/{id}", a.HandleDeleteUser).Methods("DELETE")

	r.HandleFunc("/api/tenants", a.HandleListTenants).Methods("GET")
	tenants := r.PathPrefix("/api/tenants").Subrouter()
	tenants.Use(a.Authenticate, adminOnly)
	tenants.HandleFunc("", a.HandleCreateTenant).Methods("POST")
	tenants.HandleFunc("/{id}", a.HandleGetTenant).Methods("GET")
	tenants.HandleFunc("/{id}", a.HandleUpdateTenant).Methods("PATCH")
	tenants.HandleFunc("/{id}", a.HandleDeleteTenant).Methods("DELETE")

	return r
}

// sweepExpiredTokens periodically clears refresh token records past their
// expiry so the table does not accumulate dead rows.
func (a *App) sweepExpiredTokens(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.DB.DeleteExpiredRefreshTokens(time.Now())
			if err != nil {
				log.Printf("expiry sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("expiry sweep: removed %d refresh tokens", n)
			}
		}
	}
}

func main() {
	c, err := cfg.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	keys, err := LoadKeys(c)
	if err != nil {
		log.Fatalf("key material: %v", err)
	}

	var db DB
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		db = s
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			log.Fatalf("postgres config error: %v", err)
		}

		log.Println("Applying database migrations...")
		if err := ApplyMigrations("./migrations", dsn); err != nil {
			log.Fatalf("migrations: %v", err)
		}

		p, err := NewPostgresDB(dsn)
		if err != nil {
			log.Fatalf("postgres init: %v", err)
		}
		db = p
		log.Println("Connected to PostgreSQL database")
	case "memory":
		log.Println("Using in-memory database (not recommended for production)")
		db = NewMemoryDB()
	default:
		log.Fatalf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	if err := createAdminUser(db, c.AdminEmail, c.AdminPassword); err != nil {
		log.Fatalf("admin seed: %v", err)
	}

	app := NewApp(db, NewTokens(keys), c.CookieDomain, c.RateLimitPerMinute)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go app.sweepExpiredTokens(sweepCtx, time.Hour)

	srv := &http.Server{Handler: app.routes(), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		fmt.Println("Starting identity server on", c.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closer, ok := db.(interface{ close() error }); ok {
		defer closer.close()
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown failed:%+v", err)
	}
	fmt.Println("Server exited properly")
}
