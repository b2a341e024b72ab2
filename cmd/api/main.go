package main

import (
	"context"
	"log"
	"os"

	"immersion/agency"
	"immersion/auth"
	"immersion/convention"
	"immersion/db"
	"immersion/outbox"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	conventions := convention.NewPGRepository(pool)
	agencies := agency.NewPGRepository(pool)
	users := auth.NewPGRepository(pool)
	events := outbox.NewPGRepository(pool)
	assessments := convention.NewPGAssessmentChecker(pool)

	transitions := convention.NewService(pool, conventions, agencies, events, assessments)
	accounts := auth.NewService(users, jwtSecret)
	links := auth.NewMagicLinkIssuer(jwtSecret, 0)

	log.Printf("convention services ready: transitions=%v accounts=%v links=%v",
		transitions != nil, accounts != nil, links != nil)
}
