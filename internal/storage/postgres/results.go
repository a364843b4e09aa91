package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GameResult is one finished game.
type GameResult struct {
	ID        uuid.UUID
	RoomCode  string
	Winner    string
	Loser     string
	Turns     int
	StartedAt time.Time
	EndedAt   time.Time
}

// PlayerRecord aggregates the results of one nickname.
type PlayerRecord struct {
	Nickname string
	Wins     int
	Losses   int
}

// ErrResultNotFound is returned when a result lookup yields no rows.
var ErrResultNotFound = errors.New("game result not found")

// ResultRepository persists game results.
type ResultRepository struct {
	db *pgxpool.Pool
}

// NewResultRepository creates a ResultRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewResultRepository(db *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{db: db}
}

// Save inserts r.
//
// Precondition: r.ID must be set and unique.
// Postcondition: The result is stored, or a non-nil error is returned.
func (r *ResultRepository) Save(ctx context.Context, res GameResult) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO game_results (id, room_code, winner, loser, turns, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.ID, res.RoomCode, res.Winner, res.Loser, res.Turns, res.StartedAt, res.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting game result %s: %w", res.ID, err)
	}
	return nil
}

// Get loads the result with the given id.
//
// Postcondition: Returns the result, or ErrResultNotFound.
func (r *ResultRepository) Get(ctx context.Context, id uuid.UUID) (GameResult, error) {
	var res GameResult
	err := r.db.QueryRow(ctx,
		`SELECT id, room_code, winner, loser, turns, started_at, ended_at
		 FROM game_results WHERE id = $1`,
		id,
	).Scan(&res.ID, &res.RoomCode, &res.Winner, &res.Loser, &res.Turns, &res.StartedAt, &res.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GameResult{}, ErrResultNotFound
	}
	if err != nil {
		return GameResult{}, fmt.Errorf("querying game result %s: %w", id, err)
	}
	return res, nil
}

// Recent returns up to limit results, most recently ended first.
//
// Precondition: limit > 0.
func (r *ResultRepository) Recent(ctx context.Context, limit int) ([]GameResult, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, room_code, winner, loser, turns, started_at, ended_at
		 FROM game_results ORDER BY ended_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent results: %w", err)
	}
	defer rows.Close()

	var out []GameResult
	for rows.Next() {
		var res GameResult
		if err := rows.Scan(&res.ID, &res.RoomCode, &res.Winner, &res.Loser, &res.Turns, &res.StartedAt, &res.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Record returns the win/loss tally of nickname. A nickname with no games
// has a zero record.
func (r *ResultRepository) Record(ctx context.Context, nickname string) (PlayerRecord, error) {
	rec := PlayerRecord{Nickname: nickname}
	err := r.db.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE winner = $1),
		   COUNT(*) FILTER (WHERE loser = $1)
		 FROM game_results`,
		nickname,
	).Scan(&rec.Wins, &rec.Losses)
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("querying record for %s: %w", nickname, err)
	}
	return rec, nil
}
