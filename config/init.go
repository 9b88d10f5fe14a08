package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	apperrors "github.com/mailmirror/mailmirror/internal/errors"
	"github.com/mailmirror/mailmirror/internal/logger"
	"github.com/mailmirror/mailmirror/internal/tracing"
)

// DefaultPath returns the conventional config file location in the
// user's home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".offlineimaprc"
	}
	return filepath.Join(home, ".offlineimaprc")
}

// InitConfig loads the environment-backed app settings and the ini file
// at path. A missing file is reported as apperrors.ErrConfigMissing so
// the caller can map it to exit code 1.
func InitConfig(path string) (*Config, error) {
	appConfig := &AppConfig{
		Logger:  &logger.Config{},
		Tracing: &tracing.JaegerConfig{},
	}

	// .env is optional
	_ = godotenv.Load()
	if err := env.Parse(appConfig); err != nil {
		return nil, errors.Wrap(err, "loading app config from environment")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.Wrapf(apperrors.ErrConfigMissing, "%s", path)
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}

	cfg := &Config{
		AppConfig: appConfig,
		Accounts:  make(map[string]*AccountConfig),
	}
	if err := loadGeneral(file, cfg); err != nil {
		return nil, err
	}
	loadMBNames(file, cfg)

	for _, name := range cfg.General.Accounts {
		account, err := loadAccount(file, name)
		if err != nil {
			return nil, err
		}
		cfg.Accounts[name] = account
	}

	return cfg, nil
}

func loadGeneral(file *ini.File, cfg *Config) error {
	general := file.Section("general")

	accounts := general.Key("accounts").String()
	if accounts == "" {
		return errors.New("[general] accounts is not set")
	}
	// Whitespace in the comma list is ignored.
	accounts = strings.ReplaceAll(accounts, " ", "")
	cfg.General.Accounts = strings.Split(accounts, ",")

	cfg.General.MaxSyncAccounts = general.Key("maxsyncaccounts").MustInt(1)
	cfg.General.Metadata = ExpandUser(general.Key("metadata").MustString("~/.offlineimap"))
	cfg.General.AutoRefresh = general.Key("autorefresh").MustInt(0)
	cfg.General.PythonFile = ExpandUser(general.Key("pythonfile").String())

	return nil
}

func loadAccount(file *ini.File, name string) (*AccountConfig, error) {
	if !file.HasSection(name) {
		return nil, errors.Wrapf(apperrors.ErrAccountMissing, "[%s]", name)
	}
	section := file.Section(name)

	account := &AccountConfig{
		Name:               name,
		LocalFolders:       ExpandUser(section.Key("localfolders").String()),
		MaxConnections:     section.Key("maxconnections").MustInt(1),
		HoldConnectionOpen: section.Key("holdconnectionopen").MustBool(false),
		KeepAlive:          section.Key("keepalive").MustInt(0),
		RemoteHost:         section.Key("remotehost").String(),
		RemoteUser:         section.Key("remoteuser").String(),
		SSL:                section.Key("ssl").MustBool(false),
		PreauthTunnel:      section.Key("preauthtunnel").String(),
		RemotePass:         section.Key("remotepass").String(),
		RemotePassFile:     ExpandUser(section.Key("remotepassfile").String()),
	}

	defaultPort := 143
	if account.SSL {
		defaultPort = 993
	}
	account.RemotePort = section.Key("remoteport").MustInt(defaultPort)

	if account.LocalFolders == "" {
		return nil, errors.Errorf("[%s] localfolders is not set", name)
	}
	if account.MaxConnections < 1 {
		account.MaxConnections = 1
	}

	return account, nil
}

func loadMBNames(file *ini.File, cfg *Config) {
	if !file.HasSection("mbnames") {
		return
	}
	section := file.Section("mbnames")
	cfg.MBNames = MBNamesConfig{
		Enabled:  section.Key("enabled").MustBool(false),
		Filename: ExpandUser(section.Key("filename").String()),
		Header:   section.Key("header").String(),
		PerItem:  section.Key("peritem").String(),
		Sep:      section.Key("sep").String(),
		Footer:   section.Key("footer").String(),
	}
}

// ExpandUser substitutes a leading ~ with the user's home directory.
func ExpandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}
