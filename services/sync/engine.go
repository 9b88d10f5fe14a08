package sync

import (
	"context"
	"fmt"
	"path/filepath"
	gosync "sync"

	"github.com/pkg/errors"

	"github.com/mailmirror/mailmirror/config"
	"github.com/mailmirror/mailmirror/interfaces"
	"github.com/mailmirror/mailmirror/internal/governor"
	"github.com/mailmirror/mailmirror/internal/logger"
	"github.com/mailmirror/mailmirror/internal/mbnames"
	"github.com/mailmirror/mailmirror/internal/tracing"
	"github.com/mailmirror/mailmirror/internal/utils"
	"github.com/mailmirror/mailmirror/services/imapstore"
	"github.com/mailmirror/mailmirror/services/maildirstore"
	"github.com/mailmirror/mailmirror/services/statusstore"
)

// AccountLimit is the named pool capping concurrent account workers.
const AccountLimit = "ACCOUNTLIMIT"

// FolderLimit names the per-account pool capping folder workers.
func FolderLimit(account string) string {
	return "FOLDER_" + account
}

// MsgCopyLimit names the per-account pool reserved for message-copy
// workers inside backends.
func MsgCopyLimit(account string) string {
	return "MSGCOPY_" + account
}

// Engine runs sync passes. It owns the per-account server handles, which
// are written once by the account worker of a pass and survive between
// passes when the account holds connections open.
type Engine struct {
	cfg       *config.Config
	log       logger.Logger
	ui        interfaces.UI
	gov       *governor.Governor
	mailboxes *mbnames.Collector
	passwords map[string]string

	mu      gosync.Mutex
	servers map[string]*imapstore.Server
}

func NewEngine(cfg *config.Config, log logger.Logger, ui interfaces.UI, gov *governor.Governor, mailboxes *mbnames.Collector, passwords map[string]string) *Engine {
	return &Engine{
		cfg:       cfg,
		log:       log,
		ui:        ui,
		gov:       gov,
		mailboxes: mailboxes,
		passwords: passwords,
		servers:   make(map[string]*imapstore.Server),
	}
}

// SyncItAll runs one full pass over the given accounts: each account is
// submitted under the account pool, everything is joined, and the
// mailbox list file is emitted from what the pass visited.
func (e *Engine) SyncItAll(ctx context.Context, accounts []string) error {
	span, ctx := tracing.StartTracerSpan(ctx, "sync.SyncItAll")
	defer span.Finish()
	tracing.SetDefaultControllerSpanTags(ctx, span)

	e.mailboxes.Reset()

	workers := make([]*governor.Worker, 0, len(accounts))
	for _, name := range accounts {
		account := name
		w, err := e.gov.GoLimited(AccountLimit, fmt.Sprintf("Account sync %s", account), func() error {
			return e.SyncAccount(ctx, account)
		})
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		workers = append(workers, w)
	}
	for _, w := range workers {
		w.Wait()
	}

	if err := mbnames.Write(e.cfg.MBNames, e.mailboxes.Entries()); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// SyncAccount reconciles every folder of one account, fanning folder
// workers out under the account's folder pool.
func (e *Engine) SyncAccount(ctx context.Context, name string) error {
	span, ctx := tracing.StartSpanFromContext(ctx, "sync.SyncAccount")
	defer span.Finish()
	tracing.SetDefaultSyncSpanTags(ctx, span)
	tracing.TagAccount(span, name)

	account := e.cfg.Account(name)
	if account == nil {
		err := errors.Errorf("account %s not present in configuration", name)
		tracing.TraceErr(span, err)
		return err
	}
	e.ui.Acct(name)

	if err := utils.EnsureDir(e.cfg.General.Metadata, 0o700); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	accountMeta := filepath.Join(e.cfg.General.Metadata, name)
	if err := utils.EnsureDir(accountMeta, 0o700); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	server := e.server(account)
	remoteRepo := imapstore.NewRepository(name, server, e.log)
	localRepo := maildirstore.NewRepository(account.LocalFolders, e.log)
	statusRepo := statusstore.NewRepository(accountMeta, e.log)

	e.ui.SyncFolders(remoteRepo.Name(), localRepo.Name())
	if err := remoteRepo.SyncFoldersTo(ctx, localRepo); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	folders, err := remoteRepo.GetFolders(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	workers := make([]*governor.Worker, 0, len(folders))
	for _, folder := range folders {
		remoteFolder := folder
		w, err := e.gov.GoLimited(FolderLimit(name), fmt.Sprintf("Folder sync %s[%s]", name, remoteFolder.Name()), func() error {
			return SyncFolder(ctx, e.log, e.ui, e.mailboxes, name, remoteRepo, localRepo, statusRepo, remoteFolder)
		})
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		workers = append(workers, w)
	}
	for _, w := range workers {
		w.Wait()
	}

	if !account.HoldConnectionOpen {
		e.dropServer(ctx, name)
	}
	return nil
}

// server hands out the account's shared handle, creating it on first use
// within a pass. Held-open handles from a previous pass are reused.
func (e *Engine) server(account *config.AccountConfig) *imapstore.Server {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.servers[account.Name]; ok {
		return s
	}
	s := imapstore.NewServer(account, e.passwords[account.Name], e.log)
	e.servers[account.Name] = s
	return s
}

// HeldServer returns the account's handle if one is being held open
// between passes, nil otherwise. The caller only needs the keep-alive
// capability.
func (e *Engine) HeldServer(name string) interfaces.Server {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.servers[name]; ok {
		return s
	}
	return nil
}

func (e *Engine) dropServer(ctx context.Context, name string) {
	e.mu.Lock()
	s := e.servers[name]
	delete(e.servers, name)
	e.mu.Unlock()
	if s != nil {
		if err := s.Close(ctx); err != nil {
			e.log.Warnf("[%s] closing server handle: %v", name, err)
		}
	}
}

// CloseAll drops every held server handle, used on final shutdown.
func (e *Engine) CloseAll(ctx context.Context) {
	e.mu.Lock()
	servers := e.servers
	e.servers = make(map[string]*imapstore.Server)
	e.mu.Unlock()
	for name, s := range servers {
		if err := s.Close(ctx); err != nil {
			e.log.Warnf("[%s] closing server handle: %v", name, err)
		}
	}
}
