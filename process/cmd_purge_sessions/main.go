package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "count expired sessions without deleting them")
	grace := flag.Duration("grace", 0, "only purge sessions expired for longer than this")
	flag.Parse()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	cutoff := time.Now().UTC().Add(-*grace)

	if *dryRun {
		var n int64
		if err := db.QueryRowContext(ctx, `SELECT count(*) FROM sessions WHERE expires_at < $1`, cutoff).Scan(&n); err != nil {
			log.Fatalf("count expired sessions: %v", err)
		}
		fmt.Printf("dry-run: %d expired sessions before %s\n", n, cutoff.Format(time.RFC3339))
		return
	}

	res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		log.Fatalf("delete expired sessions: %v", err)
	}
	n, _ := res.RowsAffected()
	fmt.Printf("purge done: sessions deleted=%d\n", n)
}
