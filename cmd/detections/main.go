package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"detectionserver/internal/dto"
	"detectionserver/internal/repository/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/detections.db", "Database path")
	limit := flag.Int("limit", 20, "Number of most recent detections to print")
	objects := flag.Bool("objects", false, "Print distinct object names instead")
	flag.Parse()

	if *limit < 0 {
		log.Fatalf("limit must be non-negative, got %d", *limit)
	}
	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("Database not found: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	repo := sqlite.NewDetectionRepository(db)

	var out any
	if *objects {
		names, err := repo.GetAllObjectNames()
		if err != nil {
			log.Fatalf("Failed to query object names: %v", err)
		}
		out = names
	} else {
		detections, err := repo.List(*limit)
		if err != nil {
			log.Fatalf("Failed to query detections: %v", err)
		}
		out = dto.NewDetectionRecords(detections)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}

	if total, err := repo.Count(); err == nil {
		fmt.Fprintf(os.Stderr, "%d detections stored\n", total)
	}
}
