package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"dealroom-chat/config"
	"dealroom-chat/internal/repository"
	"dealroom-chat/internal/services"
	"dealroom-chat/pkg/database"
)

const usage = `
Dealroom Chat - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Create the messaging tables, enums and indexes
  down        Drop the messaging tables (DANGEROUS)
  status      Show database connection status and table sizes
  seed-dev    Seed profile tables with a test company and creators,
              and print access tokens for them

Flags:
  -members int    Company members to seed (default 2)
  -creators int   Creators to seed (default 2)

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go seed-dev -members 3 -creators 5
  go run cmd/migrate/main.go down
`

func main() {
	members := flag.Int("members", 2, "Company members to seed")
	creators := flag.Int("creators", 2, "Creators to seed")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	// Load config and connect to database
	cfg := config.LoadConfig()
	database.Connect(cfg)
	defer database.Close()

	switch command {
	case "up":
		runMigrationsUp()
	case "down":
		runMigrationsDown()
	case "status":
		showStatus()
	case "seed-dev":
		runSeedDevelopment(cfg, *members, *creators)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp() {
	log.Println("🚀 Running migrations UP...")

	if err := repository.InitSchema(database.DB); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Migrations completed successfully!")
}

func runMigrationsDown() {
	log.Println("⬇️  Dropping messaging tables...")

	if err := repository.DropSchema(database.DB); err != nil {
		log.Fatalf("❌ Rollback failed: %v", err)
	}

	log.Println("✅ Rollback completed successfully!")
}

func showStatus() {
	log.Println("🔍 Checking database status...")

	if err := database.HealthCheck(); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	tables := []string{"rooms", "room_sequences", "room_last_seen", "messages", "contract_offers", "contract_transitions"}
	for _, table := range tables {
		if !database.TableExists(table) {
			log.Printf("❌ Table %-20s does not exist", table)
			continue
		}
		count, err := database.CountRows(table)
		if err != nil {
			log.Printf("⚠️  Error counting table %s: %v", table, err)
			continue
		}
		log.Printf("✅ Table %-20s exists (%d rows)", table, count)
	}
}

func runSeedDevelopment(cfg *config.Config, members, creators int) {
	log.Println("🌱 Seeding database (development mode)...")

	result, err := database.SeedDevelopment(members, creators)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	auth := services.NewAuthService(cfg)

	log.Println("📊 Seed Summary:")
	log.Printf("   - Company: %s", result.CompanyID)
	for _, u := range append(result.Company, result.Creators...) {
		token, _, err := auth.IssueAccessToken(u.ID)
		if err != nil {
			log.Fatalf("❌ Token issue failed: %v", err)
		}
		log.Printf("   - %-18s %s", u.DisplayName, u.ID)
		log.Printf("     token: %s", token)
	}
	log.Println("✅ Development seeding completed!")
}
