package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mailmirror/mailmirror/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailmirrorrc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestInitConfig_MissingFile(t *testing.T) {
	_, err := InitConfig(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConfigMissing))
}

func TestInitConfig_FullFile(t *testing.T) {
	path := writeConfig(t, `
[general]
accounts = work, home
maxsyncaccounts = 2
metadata = /var/lib/mailmirror
autorefresh = 5

[work]
localfolders = /mail/work
maxconnections = 3
holdconnectionopen = yes
keepalive = 60
remotehost = imap.example.org
remoteuser = alice
ssl = yes
remotepass = hunter2

[home]
localfolders = /mail/home
preauthtunnel = ssh mailhost /usr/sbin/imapd

[mbnames]
enabled = yes
filename = /tmp/mbnames
header = "mailboxes "
peritem = "+{{.FolderName}}"
sep = " "
footer = "\n"
`)

	cfg, err := InitConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"work", "home"}, cfg.General.Accounts)
	assert.Equal(t, 2, cfg.General.MaxSyncAccounts)
	assert.Equal(t, "/var/lib/mailmirror", cfg.General.Metadata)
	assert.Equal(t, 5, cfg.General.AutoRefresh)

	work := cfg.Account("work")
	require.NotNil(t, work)
	assert.Equal(t, "/mail/work", work.LocalFolders)
	assert.Equal(t, 3, work.MaxConnections)
	assert.True(t, work.HoldConnectionOpen)
	assert.True(t, work.HasKeepalive())
	assert.Equal(t, 60, work.KeepAlive)
	assert.Equal(t, "imap.example.org", work.RemoteHost)
	assert.True(t, work.SSL)
	assert.Equal(t, 993, work.RemotePort)
	assert.Equal(t, "hunter2", work.RemotePass)

	home := cfg.Account("home")
	require.NotNil(t, home)
	assert.Equal(t, "ssh mailhost /usr/sbin/imapd", home.PreauthTunnel)
	assert.Equal(t, 143, home.RemotePort)
	assert.False(t, home.HasKeepalive())

	assert.True(t, cfg.MBNames.Enabled)
	assert.Equal(t, "/tmp/mbnames", cfg.MBNames.Filename)
}

func TestInitConfig_AccountsRequired(t *testing.T) {
	path := writeConfig(t, "[general]\nmetadata = /tmp/x\n")
	_, err := InitConfig(path)
	require.Error(t, err)
}

func TestInitConfig_MissingAccountSection(t *testing.T) {
	path := writeConfig(t, "[general]\naccounts = ghost\n")
	_, err := InitConfig(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAccountMissing))
}

func TestInitConfig_LocalFoldersRequired(t *testing.T) {
	path := writeConfig(t, "[general]\naccounts = work\n\n[work]\nremotehost = h\n")
	_, err := InitConfig(path)
	require.Error(t, err)
}

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "mail"), ExpandUser("~/mail"))
	assert.Equal(t, home, ExpandUser("~"))
	assert.Equal(t, "/abs/path", ExpandUser("/abs/path"))
	assert.Equal(t, "", ExpandUser(""))
}
