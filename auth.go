package main

import (
	"log"

	"golang.org/x/crypto/bcrypt"
)

func hashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

func comparePassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

// createAdminUser seeds the administrative account on startup when it does
// not exist yet. Without it a fresh deployment has no way to reach the
// admin-gated endpoints.
func createAdminUser(db DB, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	existing, err := db.GetUserByEmail(email)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Println("Admin user already exists")
		return nil
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return err
	}
	_, err = db.CreateUser(&User{
		FirstName: "Admin",
		LastName:  "User",
		Email:     email,
		Password:  hashed,
		Role:      RoleAdmin,
	})
	if err != nil {
		return err
	}
	log.Println("Admin user created")
	return nil
}
