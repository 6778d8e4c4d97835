package main

import (
	"context"
	"log"
	"os"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/enrollment"
	"github.com/trezcool/lms/core/purchase"
	"github.com/trezcool/lms/core/reconcile"
	"github.com/trezcool/lms/services/logger"
	"github.com/trezcool/lms/storage/database"
)

func main() {
	stdLogger := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(stdLogger, conf)

	ctx := context.Background()
	stores, err := database.OpenStores(ctx, conf)
	if err != nil {
		stdLogger.Fatal(err)
	}

	// start CLI
	cli := newCommandLine(conf, stores, logger)
	err = cli.run(os.Args)

	if cErr := stores.Close(ctx); cErr != nil {
		stdLogger.Printf("closing store: %v", cErr)
	}
	logger.Close()
	if err != nil {
		if err != errHelp {
			stdLogger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func newCommandLine(conf *core.Config, stores *database.Stores, logger core.Logger) *commandLine {
	validate, _ := core.NewValidator()
	ledger := purchase.NewLedger(stores.Purchases, validate, logger).WithPageSize(conf.Sweep.BatchSize)
	applier := enrollment.NewApplier(ledger, stores.Users, stores.Courses, logger)

	cli := &commandLine{
		stores:   stores,
		validate: validate,
		sweeper:  reconcile.NewSweeper(ledger, applier, logger, conf.Sweep),
		out:      os.Stdout,
	}
	if stores.SQL != nil {
		cli.db = stores.SQL.DB
	}
	return cli
}
