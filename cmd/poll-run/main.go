// poll-run runs the ledger reconciliation poll for one business from the
// command line, bypassing Pub/Sub. Useful for local testing and for ops
// re-runs after an incident.
//
// Usage (from backend directory):
//   DB_* and XERO_* env vars set, then:
//   go run ./cmd/poll-run -business-id <uuid>
//   go run ./cmd/poll-run -all
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"bitbucket.org/mmdatafocus/remit_backend/workflow"
	"bitbucket.org/mmdatafocus/remit_backend/xerosync"
)

func main() {
	businessId := flag.String("business-id", "", "business to poll")
	all := flag.Bool("all", false, "poll every active business")
	flag.Parse()

	if *businessId == "" && !*all {
		fmt.Fprintln(os.Stderr, "either -business-id or -all is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	logger := config.GetLogger()

	gw, err := xerosync.NewClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "accounting gateway: %v\n", err)
		os.Exit(1)
	}

	ids := []string{*businessId}
	if *all {
		ids, err = models.ListActiveBusinessIds(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list businesses: %v\n", err)
			os.Exit(1)
		}
	}

	exitCode := 0
	for _, id := range ids {
		results, err := workflow.PollBusiness(ctx, db.WithContext(ctx), logger, gw, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "business %s: %v\n", id, err)
			exitCode = 1
			continue
		}
		fmt.Printf("business %s: %d remittance(s) evaluated\n", id, len(results))
		for _, res := range results {
			if res.Err != nil {
				fmt.Printf("  remittance %d: %s (error: %v)\n", res.RemittanceId, res.Reason, res.Err)
				exitCode = 1
				continue
			}
			if res.OldStatus == res.NewStatus {
				fmt.Printf("  remittance %d: %s unchanged (%s)\n", res.RemittanceId, res.OldStatus, res.Reason)
				continue
			}
			fmt.Printf("  remittance %d: %s -> %s (%s)\n", res.RemittanceId, res.OldStatus, res.NewStatus, res.Reason)
		}
	}
	os.Exit(exitCode)
}
