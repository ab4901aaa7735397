package main

import (
	"log"

	"github.com/mahaj/chat-backbone/pkg/config"
	"github.com/mahaj/chat-backbone/pkg/db"
	"github.com/mahaj/chat-backbone/pkg/model"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	gormDB, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal(err)
	}

	if err := model.Migrate(gormDB); err != nil {
		log.Fatal(err)
	}
	log.Println("Schema migrated successfully")
}
