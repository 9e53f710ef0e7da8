package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/i5heu/cipher-tally/internal/config"
	"github.com/i5heu/cipher-tally/pkg/client"
	"github.com/i5heu/cipher-tally/pkg/logging"
	"github.com/urfave/cli"
)

const (
	BinaryName = "tally"
	Version    = "0.3.0"

	optionConfig     = "config, c"
	optionServer     = "server, s"
	optionToken      = "token"
	optionActor      = "actor"
	optionLogLevel   = "log-level"
	optionListen     = "listen, l"
	optionData       = "data, d"
	optionEngine     = "engine"
	optionKeyBits    = "key-bits"
	optionScale      = "scale"
	optionLedgerRef  = "ledger-ref"
	optionValue      = "value"
	optionCount      = "count, n"
	optionOCR        = "ocr"
	optionOutput     = "output, o"
	optionInput      = "input, i"
	envToken         = "TALLY_ADMIN_TOKEN"
	defaultServerURL = "http://localhost:3000"
)

const (
	logKeyListenAddr = "listenAddr"
	logKeyDataPath   = "dataPath"
	logKeyEngine     = "engine"
	logKeySignal     = "signal"
	logKeyError      = "error"
	logKeyFile       = "file"
	logKeyKeyBits    = "keyBits"
	logKeyRecords    = "records"
)

func main() { // A
	app := cli.NewApp()
	app.Name = BinaryName
	app.Usage = "aggregate encrypted metrics without seeing them"
	app.Version = Version

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: optionConfig, Usage: "YAML or TOML configuration file"},
		cli.StringFlag{Name: optionLogLevel, Usage: "debug, info, warn or error"},
	}

	clientFlags := []cli.Flag{
		cli.StringFlag{Name: optionServer, Value: defaultServerURL, Usage: "base URL of the tally server"},
	}
	adminFlags := append([]cli.Flag{
		cli.StringFlag{Name: optionToken, EnvVar: envToken, Usage: "admin bearer token"},
		cli.StringFlag{Name: optionActor, Value: os.Getenv("USER"), Usage: "name recorded in the audit log"},
	}, clientFlags...)
	storeFlags := []cli.Flag{
		cli.StringFlag{Name: optionData, Usage: "data directory (overrides config)"},
		cli.StringFlag{Name: optionEngine, Usage: "storage engine: badger or bolt"},
	}

	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the aggregation server",
			Action: serveAction,
			Flags: append([]cli.Flag{
				cli.StringFlag{Name: optionListen, Usage: "listen address (overrides config)"},
				cli.IntFlag{Name: optionKeyBits, Usage: "Paillier modulus size (overrides config)"},
			}, storeFlags...),
		},
		{
			Name:      "ingest",
			Usage:     "parse documents locally and print their metrics",
			ArgsUsage: "file...",
			Action:    ingestAction,
			Flags: []cli.Flag{
				cli.Int64Flag{Name: optionScale, Usage: "fixed-point scale (overrides config)"},
				cli.BoolFlag{Name: optionOCR, Usage: "enable image recognition"},
			},
		},
		{
			Name:      "submit",
			Usage:     "ingest a document, encrypt its metric and submit it",
			ArgsUsage: "file",
			Action:    submitAction,
			Flags: append([]cli.Flag{
				cli.StringFlag{Name: optionValue, Usage: "submit this already scaled integer instead of a file"},
				cli.StringFlag{Name: optionLedgerRef, Usage: "opaque ledger reference stored with the submission"},
				cli.Int64Flag{Name: optionScale, Usage: "fixed-point scale (overrides config)"},
			}, clientFlags...),
		},
		{
			Name:   "aggregate",
			Usage:  "print the encrypted total",
			Action: aggregateAction,
			Flags:  append([]cli.Flag{cli.IntFlag{Name: optionCount, Value: -1, Usage: "aggregate only the first n submissions"}}, clientFlags...),
		},
		{
			Name:   "decrypt",
			Usage:  "decrypt the aggregate (admin, audited)",
			Action: decryptAction,
			Flags:  adminFlags,
		},
		{
			Name:   "clear",
			Usage:  "remove every submission (admin, audited)",
			Action: clearAction,
			Flags:  adminFlags,
		},
		{
			Name:   "audit",
			Usage:  "print the audit log (admin)",
			Action: auditAction,
			Flags:  adminFlags,
		},
		{
			Name:   "export",
			Usage:  "write an xz compressed backup of the submission store",
			Action: exportAction,
			Flags:  append([]cli.Flag{cli.StringFlag{Name: optionOutput, Usage: "output file, - for stdout", Value: "-"}}, storeFlags...),
		},
		{
			Name:   "import",
			Usage:  "restore a backup into an empty submission store",
			Action: importAction,
			Flags:  append([]cli.Flag{cli.StringFlag{Name: optionInput, Usage: "input file, - for stdin", Value: "-"}}, storeFlags...),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the global config file and applies the command's
// overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	conf, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return config.Config{}, cli.NewExitError(err, 2)
	}
	if v := c.String("data"); v != "" {
		conf.DataDir = v
	}
	if v := c.String("engine"); v != "" {
		conf.Engine = v
	}
	if v := c.String("listen"); v != "" {
		conf.Listen = v
	}
	if v := c.Int("key-bits"); v != 0 {
		conf.KeyBits = v
	}
	if v := c.Int64("scale"); v != 0 {
		conf.Scale = v
	}
	if err := conf.Validate(); err != nil {
		return config.Config{}, cli.NewExitError(err, 2)
	}
	return conf, nil
}

func newLogger(c *cli.Context, conf config.Config) (*slog.Logger, error) {
	levelName := conf.LogLevel
	if v := c.GlobalString("log-level"); v != "" {
		levelName = v
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, cli.NewExitError(err, 2)
	}
	return logging.New(os.Stderr, level, level == slog.LevelDebug), nil
}

func newClient(c *cli.Context) *client.Client {
	return client.New(c.String("server"), client.WithAdmin(c.String("token"), c.String("actor")))
}
