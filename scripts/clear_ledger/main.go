package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/database"
)

// Drops the MongoDB ledger collections and recreates their indexes. The
// chain restarts at genesis on the next append.
func main() {
	if os.Getenv("CONFIRM_CLEAR") != "yes" {
		log.Fatal("Refusing to clear the ledger without CONFIRM_CLEAR=yes")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.NewMongoDB(&cfg.MongoDB)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer db.Close(ctx)

	fmt.Printf("Clearing ledger database: %s\n", cfg.MongoDB.Database)

	collections := []string{
		database.LedgerRecordsCollection,
		database.LedgerMetricsCollection,
		database.SystemHealthCollection,
	}
	for _, name := range collections {
		if err := db.GetCollection(name).Drop(ctx); err != nil {
			log.Printf("Warning: failed to drop collection %s: %v", name, err)
			continue
		}
		fmt.Printf("Dropped collection: %s\n", name)
	}

	if err := db.CreateIndexes(ctx); err != nil {
		log.Fatalf("Failed to recreate indexes: %v", err)
	}
	fmt.Println("Ledger cleared")
}
