package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"mentormodule/process/report"
)

func main() {
	externalID := flag.String("user", "", "identity provider id of the mentor")
	month := flag.String("month", time.Now().UTC().Format("2006-01"), "month to report (YYYY-MM)")
	list := flag.Bool("list", false, "list counseling sessions")
	flag.Parse()

	if *externalID == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(2)
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DB_DSN not set; export DB_DSN and retry")
		os.Exit(2)
	}

	report.RunReport(*externalID, *month, *list)
}
