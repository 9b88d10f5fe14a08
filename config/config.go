package config

import (
	"github.com/mailmirror/mailmirror/internal/logger"
	"github.com/mailmirror/mailmirror/internal/tracing"
)

// AppConfig carries process-level settings sourced from the environment.
// Everything account- and run-related comes from the ini file instead.
type AppConfig struct {
	Logger  *logger.Config
	Tracing *tracing.JaegerConfig
}

// GeneralConfig mirrors the [general] section of the ini file.
type GeneralConfig struct {
	Accounts        []string
	MaxSyncAccounts int
	Metadata        string
	AutoRefresh     int
	PythonFile      string
}

// AccountConfig mirrors one [<account>] section.
type AccountConfig struct {
	Name           string
	LocalFolders   string
	MaxConnections int

	HoldConnectionOpen bool
	KeepAlive          int

	RemoteHost string
	RemotePort int
	RemoteUser string
	SSL        bool

	// Credential sources, mutually exclusive. A preauth tunnel means no
	// password is ever solicited for the account.
	PreauthTunnel  string
	RemotePass     string
	RemotePassFile string
}

// HasKeepalive reports whether the account wants a keep-alive worker
// between periodic passes.
func (a *AccountConfig) HasKeepalive() bool {
	return a.HoldConnectionOpen && a.KeepAlive > 0
}

// MBNamesConfig mirrors the optional [mbnames] section driving the
// mailbox list file.
type MBNamesConfig struct {
	Enabled  bool
	Filename string
	Header   string
	PerItem  string
	Sep      string
	Footer   string
}

// Config is the read-only configuration view the core consumes.
type Config struct {
	AppConfig *AppConfig
	General   GeneralConfig
	MBNames   MBNamesConfig
	Accounts  map[string]*AccountConfig
}

// Account returns the configuration for the named account, or nil when
// the ini file has no such section.
func (c *Config) Account(name string) *AccountConfig {
	return c.Accounts[name]
}
