package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"ticketsaga/internal/config"
	"ticketsaga/internal/database"
	"ticketsaga/internal/logger"
	"ticketsaga/internal/models"
)

var (
	concertID     = flag.Int64("concert", 1, "Concert ID for new shows")
	showCount     = flag.Int("shows", 1, "Number of shows to create")
	showID        = flag.Int64("show", 0, "Generate seats only for an existing show ID (0 = create new shows)")
	clearExisting = flag.Bool("clear", false, "Clear existing seats of -show before generating new ones")
	dryRun        = flag.Bool("dry-run", false, "Show what would be generated without making changes")
)

// CatalogGenerator fills shows and show_seats with a random hall layout.
type CatalogGenerator struct {
	db  *database.DB
	rnd *rand.Rand
}

type SeatInfo struct {
	ID    int64
	Row   int
	Price int64
}

func main() {
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, "text")

	slog.Info("Starting catalog generator...")

	db, err := database.Connect(cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	g := &CatalogGenerator{db: db, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}

	ctx := context.Background()
	if *showID > 0 {
		err = g.generateSeatsForShow(ctx, *showID)
	} else {
		err = g.GenerateShows(ctx, *concertID, *showCount)
	}
	if err != nil {
		slog.Error("Catalog generation failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Catalog generation completed successfully!")
}

func (g *CatalogGenerator) GenerateShows(ctx context.Context, concertID int64, count int) error {
	for i := 0; i < count; i++ {
		startsAt := time.Now().Add(time.Duration(i+1) * 24 * time.Hour).Truncate(time.Hour)
		seats := g.generateSeatLayout()

		if *dryRun {
			slog.Info("[DRY RUN] Would create show", "concert_id", concertID, "starts_at", startsAt, "total_seats", len(seats))
			continue
		}

		var id int64
		err := g.db.WithTx(ctx, func(tx *sql.Tx) error {
			if err := tx.QueryRowContext(ctx,
				`INSERT INTO shows (concert_id, starts_at) VALUES ($1, $2) RETURNING id`,
				concertID, startsAt,
			).Scan(&id); err != nil {
				return err
			}
			return g.insertSeats(ctx, tx, id, seats)
		})
		if err != nil {
			return fmt.Errorf("failed to create show: %w", err)
		}
		slog.Info("Created show", "show_id", id, "concert_id", concertID, "total_seats", len(seats))
	}
	return nil
}

func (g *CatalogGenerator) generateSeatsForShow(ctx context.Context, showID int64) error {
	if !*clearExisting {
		existingCount, err := g.getExistingSeatCount(ctx, showID)
		if err != nil {
			return fmt.Errorf("failed to check existing seats: %w", err)
		}
		if existingCount > 0 {
			slog.Info("Show already has seats, skipping (use -clear to override)", "show_id", showID, "existing_count", existingCount)
			return nil
		}
	}

	seats := g.generateSeatLayout()
	if *dryRun {
		slog.Info("[DRY RUN] Would generate seats for show", "show_id", showID, "total_seats", len(seats))
		return nil
	}

	err := g.db.WithTx(ctx, func(tx *sql.Tx) error {
		if *clearExisting {
			// Seats already referenced by a reservation keep their price row.
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM show_seats ss
				WHERE ss.show_id = $1
				  AND NOT EXISTS (SELECT 1 FROM reservation_seats rs WHERE rs.show_id = ss.show_id AND rs.seat_id = ss.seat_id)`,
				showID); err != nil {
				return fmt.Errorf("failed to clear existing seats: %w", err)
			}
		}
		return g.insertSeats(ctx, tx, showID, seats)
	})
	if err != nil {
		return err
	}

	slog.Info("Generated seats for show", "show_id", showID, "total_seats", len(seats))
	return nil
}

func (g *CatalogGenerator) getExistingSeatCount(ctx context.Context, showID int64) (int, error) {
	var count int
	err := g.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM show_seats WHERE show_id = $1", showID).Scan(&count)
	return count, err
}

// generateSeatLayout builds 100..1000 seats in rows of 10..20 numbered from 1.
func (g *CatalogGenerator) generateSeatLayout() []SeatInfo {
	totalSeats := g.rnd.Intn(901) + 100

	seats := make([]SeatInfo, 0, totalSeats)
	rowNumber := 1
	for len(seats) < totalSeats {
		seatsInRow := min(g.rnd.Intn(11)+10, totalSeats-len(seats))
		for i := 0; i < seatsInRow; i++ {
			seats = append(seats, SeatInfo{
				ID:    int64(len(seats) + 1),
				Row:   rowNumber,
				Price: g.generateSeatPrice(rowNumber),
			})
		}
		rowNumber++
	}
	return seats
}

// Prices are whole use units so every seat set can be paid in points.
func (g *CatalogGenerator) generateSeatPrice(rowNumber int) int64 {
	basePrice := int64(2000)

	var extra int
	switch {
	case rowNumber <= 3:
		extra = g.rnd.Intn(3000) + 2000
	case rowNumber <= 10:
		extra = g.rnd.Intn(2000) + 1000
	default:
		extra = g.rnd.Intn(1000)
	}
	return (basePrice + int64(extra)) / models.MinUseUnit * models.MinUseUnit
}

func (g *CatalogGenerator) insertSeats(ctx context.Context, tx *sql.Tx, showID int64, seats []SeatInfo) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO show_seats (show_id, seat_id, price)
		VALUES ($1, $2, $3)
		ON CONFLICT (show_id, seat_id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, seat := range seats {
		if _, err := stmt.ExecContext(ctx, showID, seat.ID, seat.Price); err != nil {
			return err
		}
	}
	return nil
}
