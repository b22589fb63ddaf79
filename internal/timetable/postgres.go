package timetable

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"unibus/internal/domain"
)

// PostgresSource loads the timetable from the product database, where the
// admin CRUD surface (out of scope here) maintains it.
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("timetable db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("timetable db ping: %w", err)
	}
	return &PostgresSource{pool: pool}, nil
}

func (p *PostgresSource) Close() {
	p.pool.Close()
}

func (p *PostgresSource) Load(ctx context.Context) ([]domain.TimetableEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT route_name, bus_name, to_char(departure_time, 'HH24:MI'), direction
		FROM timetable
		ORDER BY departure_time, bus_name`)
	if err != nil {
		return nil, fmt.Errorf("query timetable: %w", err)
	}
	defer rows.Close()

	var entries []domain.TimetableEntry
	for rows.Next() {
		var e domain.TimetableEntry
		if err := rows.Scan(&e.RouteName, &e.BusName, &e.Time, &e.Direction); err != nil {
			return nil, fmt.Errorf("scan timetable row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timetable rows: %w", err)
	}
	return entries, nil
}
