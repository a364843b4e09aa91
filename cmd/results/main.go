// Package main prints recent game results or one player's record from the
// results database.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cory-johannsen/battleship/internal/config"
	"github.com/cory-johannsen/battleship/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file (empty = defaults and environment)")
	nickname := flag.String("nickname", "", "print the win/loss record of this player")
	limit := flag.Int("limit", 10, "number of recent games to list")
	flag.Parse()

	if *nickname == "" && *limit <= 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewResultRepository(pool.DB())

	if *nickname != "" {
		rec, err := repo.Record(ctx, *nickname)
		if err != nil {
			log.Fatalf("looking up %q: %v", *nickname, err)
		}
		printRecord(os.Stdout, rec)
	} else {
		results, err := repo.Recent(ctx, *limit)
		if err != nil {
			log.Fatalf("listing results: %v", err)
		}
		printResults(os.Stdout, results)
	}
	fmt.Fprintf(os.Stdout, "[%s]\n", time.Since(start))
}

func printRecord(w io.Writer, rec postgres.PlayerRecord) {
	fmt.Fprintf(w, "%s: %d won, %d lost\n", rec.Nickname, rec.Wins, rec.Losses)
}

func printResults(w io.Writer, results []postgres.GameResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDED\tROOM\tWINNER\tLOSER\tTURNS\tDURATION")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.EndedAt.Format(time.RFC3339), r.RoomCode, r.Winner, r.Loser, r.Turns,
			r.EndedAt.Sub(r.StartedAt).Round(time.Second))
	}
	tw.Flush()
}
