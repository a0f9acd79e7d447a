// File: cmd/seed/main.go
// Seeds a demo user with a starting credit balance for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"pixelmint/internal/domain/model"
	pg "pixelmint/internal/infra/db/postgres"
)

func main() {
	email := flag.String("email", "dev@pixelmint.local", "email for the seeded user")
	credits := flag.Int("credits", 100, "starting credit balance")
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, err := pg.NewPgxPool(ctx, dsn, 2)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	user, err := model.NewUser("", *email, *credits)
	if err != nil {
		log.Fatalf("new user: %v", err)
	}
	if err := pg.NewUserRepo(pool).Save(ctx, nil, user); err != nil {
		log.Fatalf("save user: %v", err)
	}
	fmt.Printf("seeded user %s\napi key: %s\ncredits: %d\n", user.ID, user.APIKey, user.Credits)
}
