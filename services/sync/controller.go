package sync

import (
	"context"
	"time"

	"github.com/mailmirror/mailmirror/config"
	"github.com/mailmirror/mailmirror/interfaces"
	apperrors "github.com/mailmirror/mailmirror/internal/errors"
	"github.com/mailmirror/mailmirror/internal/governor"
	"github.com/mailmirror/mailmirror/internal/logger"
)

// RunnerSentinel marks the exit record of the sync runner worker so the
// termination handler can tell "the run is over" apart from ordinary
// worker exits.
const RunnerSentinel = "SYNC RUNNER DONE"

// passEngine is the slice of the engine the controller drives: full
// passes, plus the held-open server handles keep-alives ping.
type passEngine interface {
	SyncItAll(ctx context.Context, accounts []string) error
	HeldServer(name string) interfaces.Server
}

// Controller drives sync passes: once in one-shot mode, or forever with
// keep-alive workers bridging the gaps between periodic passes.
type Controller struct {
	cfg     *config.Config
	log     logger.Logger
	ui      interfaces.UI
	gov     *governor.Governor
	engine  passEngine
	oneShot bool
}

func NewController(cfg *config.Config, log logger.Logger, ui interfaces.UI, gov *governor.Governor, engine passEngine, oneShot bool) *Controller {
	return &Controller{
		cfg:     cfg,
		log:     log,
		ui:      ui,
		gov:     gov,
		engine:  engine,
		oneShot: oneShot,
	}
}

// Run is the body of the sync runner worker.
func (c *Controller) Run(ctx context.Context, accounts []string) error {
	if c.oneShot || c.cfg.General.AutoRefresh <= 0 {
		return c.engine.SyncItAll(ctx, accounts)
	}

	for {
		if err := c.engine.SyncItAll(ctx, accounts); err != nil {
			return err
		}

		stop := make(chan struct{})
		keepalives := c.startKeepalives(accounts, stop)

		code := c.ui.Sleep(time.Duration(c.cfg.General.AutoRefresh) * time.Minute)
		close(stop)

		if code == interfaces.SleepTerminate {
			// Keep-alives are cancelled but not joined on a user stop;
			// they wind down on their own.
			return nil
		}
		for _, w := range keepalives {
			w.Wait()
		}
	}
}

// startKeepalives launches one keep-alive worker per account that holds
// its connections open between passes.
func (c *Controller) startKeepalives(accounts []string, stop <-chan struct{}) []*governor.Worker {
	var workers []*governor.Worker
	for _, name := range accounts {
		account := c.cfg.Account(name)
		if account == nil || !account.HasKeepalive() {
			continue
		}
		server := c.engine.HeldServer(name)
		if server == nil {
			continue
		}
		interval := account.KeepAlive
		workers = append(workers, c.gov.Go("Keep alive "+name, "", func() error {
			return server.Keepalive(interval, stop)
		}))
	}
	return workers
}

// TerminationHandler builds the function the governor's monitor loop
// calls for every finished worker. A worker error ends the process with
// code 100 after reporting; the runner's sentinel hands control to the
// UI's terminate path, with a forced exit behind it in case the UI
// returns.
func TerminationHandler(ui interfaces.UI) func(governor.ExitRecord) error {
	return func(rec governor.ExitRecord) error {
		if rec.Err != nil {
			if code := apperrors.ExitCode(rec.Err); code != 100 {
				return apperrors.NewExitError(code, rec.Err)
			}
			ui.WorkerException(rec.Name, rec.Err)
			return apperrors.NewExitError(100, rec.Err)
		}
		if rec.Message == RunnerSentinel {
			ui.Terminate()
			return apperrors.NewExitError(100, nil)
		}
		ui.WorkerExited(rec.Name)
		return nil
	}
}
