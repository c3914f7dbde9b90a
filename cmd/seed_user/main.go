package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"mentormodule/pkg/idp"
	"mentormodule/pkg/rolegate"
	"mentormodule/pkg/session"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Println("usage: go run ./cmd/seed_user <external_id> <email> <role> [full name]")
		os.Exit(2)
	}
	externalID := strings.TrimSpace(os.Args[1])
	email := strings.TrimSpace(os.Args[2])
	role := strings.TrimSpace(os.Args[3])
	fullName := email
	if len(os.Args) > 4 {
		fullName = strings.Join(os.Args[4:], " ")
	}

	gate, err := rolegate.New(rolegate.DefaultTable())
	if err != nil {
		log.Fatalf("role table: %v", err)
	}
	if !gate.IsAllowed(role) {
		log.Fatalf("role %q is not admitted; allowed: %s", role, strings.Join(rolegate.AllowedRoles, ", "))
	}

	dsn := os.Getenv("DB_DSN")
	if strings.TrimSpace(dsn) == "" {
		log.Fatal("DB_DSN not set in environment")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	dir := session.NewGormDirectory(db)
	user, err := dir.UpsertUser(ctx, &idp.User{ID: externalID, Email: email, FullName: fullName, Role: role}, time.Now())
	if err != nil {
		log.Fatalf("failed to upsert user: %v", err)
	}
	fmt.Printf("user %s id=%s role=%s\n", externalID, user.ID, user.Role)

	if role == rolegate.RoleFaculty {
		m, created, err := dir.EnsureMentor(ctx, user)
		if err != nil {
			log.Printf("warning: failed to create mentor record: %v", err)
			return
		}
		if created {
			fmt.Printf("created mentor id=%d\n", m.ID)
		}
	}
}
