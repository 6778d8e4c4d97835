package main

import (
	"context"
	"encoding/json"
)

// sweep runs one reconciliation pass, e.g. from cron, & prints its report.
func (cli *commandLine) sweep() error {
	report, err := cli.sweeper.Run(context.Background())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
