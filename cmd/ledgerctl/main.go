// Command ledgerctl inspects and verifies the provenance ledger directly
// against its storage backend.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"petshop-provenance-ledger/internal/adapters/secondary"
	appservice "petshop-provenance-ledger/internal/application/service"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	"petshop-provenance-ledger/internal/infrastructure/sealing"

	"github.com/fatih/color"
	"gopkg.in/urfave/cli.v1"
)

var (
	backendFlag = cli.StringFlag{
		Name:  "backend",
		Usage: "Storage backend (mongodb | leveldb), overrides STORAGE_BACKEND",
	}
	levelDBPathFlag = cli.StringFlag{
		Name:  "leveldb-path",
		Usage: "LevelDB directory, overrides LEVELDB_PATH",
	}
	mongoURIFlag = cli.StringFlag{
		Name:  "mongo-uri",
		Usage: "MongoDB connection URI, overrides MONGO_URI",
	}
	timeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Usage: "Deadline for the whole command",
		Value: 2 * time.Minute,
	}
	verboseFlag = cli.BoolFlag{
		Name:  "verbose",
		Usage: "Log storage activity",
	}

	fieldFlag = cli.StringFlag{
		Name:  "field",
		Usage: "Restrict verification to records whose field equals --value",
	}
	valueFlag = cli.StringFlag{
		Name:  "value",
		Usage: "Value matched against --field",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "ledgerctl"
	app.Usage = "inspect and verify the petshop provenance ledger"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{backendFlag, levelDBPathFlag, mongoURIFlag, timeoutFlag, verboseFlag}
	app.Commands = []cli.Command{
		{
			Name:   "verify",
			Usage:  "Verify the whole chain, or the records matching --field/--value",
			Flags:  []cli.Flag{fieldFlag, valueFlag},
			Action: withLedger(verifyCommand),
		},
		{
			Name:   "stats",
			Usage:  "Show chain statistics",
			Action: withLedger(statsCommand),
		},
		{
			Name:      "history",
			Usage:     "Show the event history of a pet",
			ArgsUsage: "<petCode>",
			Action:    withLedger(historyCommand),
		},
		{
			Name:      "certificate",
			Usage:     "Issue a verification certificate for a pet",
			ArgsUsage: "<petCode>",
			Action:    withLedger(certificateCommand),
		},
		{
			Name:   "keygen",
			Usage:  "Generate a record sealing key",
			Action: keygenCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type ledgerAction func(ctx context.Context, c *cli.Context, ledger *appservice.LedgerService) error

// withLedger opens storage from config plus flag overrides and builds a
// read-side ledger service around it
func withLedger(action ledgerAction) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		log := logger.NewNop()
		if c.GlobalBool(verboseFlag.Name) {
			if log, err = logger.NewLogger(cfg); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.GlobalDuration(timeoutFlag.Name))
		defer cancel()

		storage, err := secondary.OpenStorage(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer storage.Close(context.Background())

		sealer, err := sealing.NewSealer(cfg, log)
		if err != nil {
			return err
		}
		ledger := appservice.NewLedgerService(storage.Ledger, sealer, cfg, log)
		return action(ctx, c, ledger)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if v := c.GlobalString(backendFlag.Name); v != "" {
		cfg.Storage.Backend = v
	}
	if v := c.GlobalString(levelDBPathFlag.Name); v != "" {
		cfg.Storage.LevelDBPath = v
	}
	if v := c.GlobalString(mongoURIFlag.Name); v != "" {
		cfg.MongoDB.URI = v
	}
	return cfg, cfg.Validate()
}
