package main

import (
	"context"
	"log"
	"os"

	"ledger/internal/attendance"
	"ledger/internal/config"
	"ledger/internal/outbox"
	"ledger/internal/store"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stderr, "LEDGERCTL : ", log.LstdFlags|log.Lshortfile)

	cfg := config.Load()
	loc, err := cfg.Location()
	errAndDie(err)

	docs, err := store.OpenDocStore(context.Background(), cfg)
	errAndDie(err)
	defer docs.Close()

	repo := attendance.NewRepository(docs, loc)
	cli := commandLine{
		cfg:      cfg,
		out:      os.Stdout,
		exporter: attendance.NewExporter(repo, nil),
		agg:      attendance.NewAggregator(repo, nil, nil),
		recorder: attendance.NewRecorder(repo),
		openOutbox: func() (*outbox.Outbox, error) {
			return outbox.Open(cfg.OutboxPath)
		},
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("error: %s", err)
		}
		docs.Close()
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
