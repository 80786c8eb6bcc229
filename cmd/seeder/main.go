package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/mailkite/mailkite-backend/internal/config"
	"github.com/mailkite/mailkite-backend/internal/db"
)

// Applies the embedded schema migrations and then any seed SQL files passed
// on the command line, in order.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	if err := db.Migrate(cfg.DB.DSN()); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	fmt.Println("migrations applied")

	if len(os.Args) < 2 {
		return
	}

	conn, err := db.Connect(cfg.DB.DSN())
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	for _, file := range os.Args[1:] {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("failed to read %s: %v", file, err)
		}
		if _, err := conn.Exec(string(content)); err != nil {
			log.Fatalf("failed to execute %s: %v", file, err)
		}
		fmt.Printf("seeded: %s\n", file)
	}
}
