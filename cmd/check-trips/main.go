package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/JesusCabrera84/siscom-trips/common/database"
	"github.com/JesusCabrera84/siscom-trips/internal/config"
	"github.com/JesusCabrera84/siscom-trips/internal/repository"
)

// check-trips reports devices that break the trip state rules: more than
// one open trip, or ignition on without any open trip. Exit status 1 when
// anything is found.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	audit := repository.NewTripAudit(db)

	conflicts, err := audit.OpenTripConflicts(ctx)
	if err != nil {
		log.Fatalf("Failed to check open trips: %v", err)
	}
	drifted, err := audit.DriftedStates(ctx)
	if err != nil {
		log.Fatalf("Failed to check device state: %v", err)
	}

	fmt.Printf("Devices with more than one open trip: %d\n", len(conflicts))
	for _, c := range conflicts {
		fmt.Printf("  %-24s open=%-3d oldest=%s newest=%s\n",
			c.DeviceID, c.OpenTrips,
			c.OldestStart.Format(time.RFC3339), c.NewestStart.Format(time.RFC3339))
	}

	fmt.Printf("Devices with ignition on and no open trip: %d\n", len(drifted))
	for _, d := range drifted {
		last := "never"
		if d.LastPointAt != nil {
			last = d.LastPointAt.Format(time.RFC3339)
		}
		fmt.Printf("  %-24s last_point_at=%s\n", d.DeviceID, last)
	}

	if len(conflicts) > 0 || len(drifted) > 0 {
		os.Exit(1)
	}
}
