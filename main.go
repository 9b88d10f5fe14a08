package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/mailmirror/mailmirror/config"
	"github.com/mailmirror/mailmirror/interfaces"
	apperrors "github.com/mailmirror/mailmirror/internal/errors"
	"github.com/mailmirror/mailmirror/internal/governor"
	"github.com/mailmirror/mailmirror/internal/logger"
	"github.com/mailmirror/mailmirror/internal/mbnames"
	"github.com/mailmirror/mailmirror/internal/tracing"
	"github.com/mailmirror/mailmirror/internal/utils"
	"github.com/mailmirror/mailmirror/services/imapstore"
	"github.com/mailmirror/mailmirror/services/sync"
	"github.com/mailmirror/mailmirror/services/ui"
)

func main() {
	app := &cli.App{
		Name:  "mailmirror",
		Usage: "synchronize remote IMAP folders with a local Maildir tree",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "c", Usage: "config `FILE` to use instead of ~/.offlineimaprc"},
			&cli.StringFlag{Name: "a", Usage: "comma-separated `ACCOUNTS` to sync, overriding the config"},
			&cli.StringFlag{Name: "d", Usage: "comma-separated debug `TAGS` (imap raises protocol debugging)"},
			&cli.BoolFlag{Name: "o", Usage: "run only once, ignoring autorefresh"},
			&cli.BoolFlag{Name: "1", Usage: "force all worker pools to size one"},
			&cli.StringFlag{Name: "P", Usage: "write a CPU profile into `DIR` (requires -1)"},
			&cli.StringFlag{Name: "u", Usage: "user interface to use (tty, quiet)"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func run(c *cli.Context) error {
	configPath := c.String("c")
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, err := config.InitConfig(configPath)
	if err != nil {
		if errors.Is(err, apperrors.ErrConfigMissing) {
			return apperrors.NewExitError(1, err)
		}
		return apperrors.NewExitError(100, err)
	}

	log := logger.NewAppLogger(cfg.AppConfig.Logger)
	log.InitLogger()

	tracer, closer, err := tracing.NewJaegerTracer(cfg.AppConfig.Tracing, log)
	if err != nil {
		return apperrors.NewExitError(100, errors.Wrap(err, "initializing tracer"))
	}
	defer closer.Close()
	opentracing.SetGlobalTracer(tracer)

	sink, err := ui.New(c.String("u"), log)
	if err != nil {
		return apperrors.NewExitError(100, err)
	}
	sink.Banner()

	if tags := c.String("d"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			sink.AddDebug(tag)
			if tag == "imap" {
				imapstore.SetDebugWriter(os.Stderr)
			}
		}
	}

	accounts := cfg.General.Accounts
	if list := c.String("a"); list != "" {
		accounts = strings.Split(strings.ReplaceAll(list, " ", ""), ",")
	}
	for _, name := range accounts {
		if cfg.Account(name) == nil {
			return apperrors.NewExitError(100, errors.Errorf("account %s not found in %s", name, configPath))
		}
	}

	singleWorker := c.Bool("1")
	if dir := c.String("P"); dir != "" {
		if !singleWorker {
			return apperrors.NewExitError(100, errors.New("profile mode -P requires single-worker mode -1"))
		}
		// The directory is created unconditionally, so a leftover from an
		// earlier profiled run aborts startup.
		if err := os.Mkdir(dir, 0o700); err != nil {
			return apperrors.NewExitError(100, errors.Wrap(err, "creating profile dir"))
		}
		f, err := os.Create(filepath.Join(dir, "cpu.pprof"))
		if err != nil {
			return apperrors.NewExitError(100, errors.Wrap(err, "creating profile file"))
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return apperrors.NewExitError(100, errors.Wrap(err, "starting profile"))
		}
		defer pprof.StopCPUProfile()
	}

	if err := utils.EnsureDir(cfg.General.Metadata, 0o700); err != nil {
		return apperrors.NewExitError(100, err)
	}

	// All prompting happens here on the main goroutine, before any worker
	// exists. Tunnel accounts never appear in the password map.
	passwords, err := gatherPasswords(cfg, accounts, sink)
	if err != nil {
		return apperrors.NewExitError(100, err)
	}

	gov := governor.New(log)
	accountLimit := cfg.General.MaxSyncAccounts
	if singleWorker {
		accountLimit = 1
	}
	gov.InitLimit(sync.AccountLimit, accountLimit)
	for _, name := range accounts {
		n := cfg.Account(name).MaxConnections
		if singleWorker {
			n = 1
		}
		gov.InitLimit(sync.FolderLimit(name), n)
		gov.InitLimit(sync.MsgCopyLimit(name), n)
	}

	collector := mbnames.NewCollector()
	engine := sync.NewEngine(cfg, log, sink, gov, collector, passwords)
	controller := sync.NewController(cfg, log, sink, gov, engine, c.Bool("o"))

	ctx := context.Background()
	gov.Go("Sync Runner", sync.RunnerSentinel, func() error {
		return controller.Run(ctx, accounts)
	})

	err = gov.MonitorLoop(sync.TerminationHandler(sink))
	engine.CloseAll(ctx)
	if err != nil {
		sink.MainException(err)
		return err
	}
	return nil
}

// gatherPasswords resolves one credential per account: a literal from the
// config, the first line of a password file, or an interactive prompt.
func gatherPasswords(cfg *config.Config, accounts []string, sink interfaces.UI) (map[string]string, error) {
	passwords := make(map[string]string, len(accounts))
	for _, name := range accounts {
		account := cfg.Account(name)
		switch {
		case account.PreauthTunnel != "":
			continue
		case account.RemotePass != "":
			passwords[name] = account.RemotePass
		case account.RemotePassFile != "":
			pass, err := readFirstLine(account.RemotePassFile)
			if err != nil {
				return nil, errors.Wrapf(err, "reading password file for account %s", name)
			}
			passwords[name] = pass
		default:
			pass, err := sink.GetPass(name)
			if err != nil {
				return nil, err
			}
			passwords[name] = pass
		}
	}
	return passwords, nil
}

func readFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", errors.Errorf("%s is empty", path)
	}
	return strings.TrimRight(scanner.Text(), "\r\n"), nil
}
