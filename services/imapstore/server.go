package imapstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/pkg/errors"

	"github.com/mailmirror/mailmirror/config"
	"github.com/mailmirror/mailmirror/internal/logger"
)

var (
	debugMu     sync.Mutex
	debugWriter io.Writer
)

// SetDebugWriter routes the raw IMAP protocol exchange of every new
// connection to w. Enabled by the "imap" debug tag.
func SetDebugWriter(w io.Writer) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugWriter = w
}

func currentDebugWriter() io.Writer {
	debugMu.Lock()
	defer debugMu.Unlock()
	return debugWriter
}

// Server is the shared per-account handle to the IMAP store. It owns a
// bounded pool of connections, sized by the account's maxconnections;
// folder workers borrow a connection per operation and return it.
type Server struct {
	account  *config.AccountConfig
	password string
	log      logger.Logger

	slots chan struct{}

	mu     sync.Mutex
	free   []*client.Client
	closed bool
}

func NewServer(account *config.AccountConfig, password string, log logger.Logger) *Server {
	n := account.MaxConnections
	if n < 1 {
		n = 1
	}
	return &Server{
		account:  account,
		password: password,
		log:      log,
		slots:    make(chan struct{}, n),
	}
}

// Acquire borrows a connection, dialing a fresh one when the pool has
// capacity and no idle connection is available.
func (s *Server) Acquire(ctx context.Context) (*client.Client, error) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.slots
		return nil, errors.Errorf("server handle for account %s is closed", s.account.Name)
	}
	if n := len(s.free); n > 0 {
		c := s.free[n-1]
		s.free = s.free[:n-1]
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	c, err := s.dial(ctx)
	if err != nil {
		<-s.slots
		return nil, err
	}
	return c, nil
}

// Release returns a borrowed connection to the idle pool.
func (s *Server) Release(c *client.Client) {
	s.mu.Lock()
	s.free = append(s.free, c)
	s.mu.Unlock()
	<-s.slots
}

// Discard drops a borrowed connection that is no longer trusted.
func (s *Server) Discard(c *client.Client) {
	c.Timeout = 5 * time.Second
	_ = c.Logout()
	<-s.slots
}

func (s *Server) dial(ctx context.Context) (*client.Client, error) {
	if s.account.PreauthTunnel != "" {
		return s.dialTunnel(ctx)
	}

	serverAddr := fmt.Sprintf("%s:%d", s.account.RemoteHost, s.account.RemotePort)
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error
	if s.account.SSL {
		tlsConfig := &tls.Config{ServerName: s.account.RemoteHost}
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", serverAddr)
	}
	if w := currentDebugWriter(); w != nil {
		c.SetDebug(w)
	}

	c.Timeout = 30 * time.Second
	if err := c.Login(s.account.RemoteUser, s.password); err != nil {
		_ = c.Logout()
		return nil, errors.Wrapf(err, "logging in to %s", serverAddr)
	}
	c.Timeout = 0

	s.log.Infof("[%s] connected to %s", s.account.Name, serverAddr)
	return c, nil
}

// dialTunnel spawns the preauth tunnel command and speaks IMAP over its
// stdin/stdout. The server side of the tunnel greets in PREAUTH state,
// so no login happens here.
func (s *Server) dialTunnel(ctx context.Context) (*client.Client, error) {
	cmd := exec.Command("/bin/sh", "-c", s.account.PreauthTunnel)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "preparing tunnel stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "preparing tunnel stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting tunnel %q", s.account.PreauthTunnel)
	}

	conn := &tunnelConn{cmd: cmd, stdin: stdin, stdout: stdout}
	c, err := client.New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "handshaking over tunnel %q", s.account.PreauthTunnel)
	}
	if w := currentDebugWriter(); w != nil {
		c.SetDebug(w)
	}

	s.log.Infof("[%s] connected via preauth tunnel", s.account.Name)
	return c, nil
}

// Keepalive pings every idle connection each interval seconds until stop
// is closed. It runs only between sync passes.
func (s *Server) Keepalive(interval int, stop <-chan struct{}) error {
	if interval < 1 {
		interval = 1
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			s.mu.Lock()
			conns := make([]*client.Client, len(s.free))
			copy(conns, s.free)
			s.mu.Unlock()

			for _, c := range conns {
				c.Timeout = 10 * time.Second
				err := c.Noop()
				c.Timeout = 0
				if err != nil {
					s.log.Warnf("[%s] keepalive noop failed: %v", s.account.Name, err)
				}
			}
		}
	}
}

// Close logs out all idle connections and refuses further acquisition.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	conns := s.free
	s.free = nil
	s.closed = true
	s.mu.Unlock()

	for _, c := range conns {
		c.Timeout = 5 * time.Second
		_ = c.Logout()
	}
	return nil
}

// tunnelConn adapts a child process's stdio to net.Conn so the IMAP
// client can run over a preauth tunnel.
type tunnelConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (t *tunnelConn) Read(p []byte) (int, error)  { return t.stdout.Read(p) }
func (t *tunnelConn) Write(p []byte) (int, error) { return t.stdin.Write(p) }

func (t *tunnelConn) Close() error {
	_ = t.stdin.Close()
	_ = t.stdout.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	return t.cmd.Wait()
}

type tunnelAddr struct{}

func (tunnelAddr) Network() string { return "tunnel" }
func (tunnelAddr) String() string  { return "tunnel" }

func (t *tunnelConn) LocalAddr() net.Addr              { return tunnelAddr{} }
func (t *tunnelConn) RemoteAddr() net.Addr             { return tunnelAddr{} }
func (t *tunnelConn) SetDeadline(time.Time) error      { return nil }
func (t *tunnelConn) SetReadDeadline(time.Time) error  { return nil }
func (t *tunnelConn) SetWriteDeadline(time.Time) error { return nil }
