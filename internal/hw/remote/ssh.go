package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// RegisterWriter writes a sandbox register outside the daemon protocol.
type RegisterWriter interface {
	WriteRegister(ctx context.Context, engine, name string, value int32) error
}

// SSHConfig describes how to reach the chassis controller over SSH. Sandbox
// registers are exposed there as files under Root.
type SSHConfig struct {
	Host     string
	User     string
	Password string
	KeyPath  string
	Port     int
	Root     string
}

// SSHRegisterWriter writes sandbox registers by running a shell command on
// the chassis controller. It is used when the daemon answers WREG with
// ENOSYS.
type SSHRegisterWriter struct {
	mu     sync.Mutex
	cfg    SSHConfig
	client *ssh.Client
}

// NewSSHRegisterWriter validates cfg and fills defaults.
func NewSSHRegisterWriter(cfg SSHConfig) (*SSHRegisterWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required for register fallback")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Root == "" {
		cfg.Root = "/var/lib/chassis/sandbox"
	}
	return &SSHRegisterWriter{cfg: cfg}, nil
}

// WriteRegister implements RegisterWriter.
func (w *SSHRegisterWriter) WriteRegister(ctx context.Context, engine, name string, value int32) error {
	client, err := w.dial(ctx)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	if err := session.Run(writeCommand(w.cfg.Root, engine, name, value)); err != nil {
		return fmt.Errorf("write register %s on %s via ssh: %w", name, engine, err)
	}
	return nil
}

// Close drops the cached SSH client.
func (w *SSHRegisterWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return nil
	}
	err := w.client.Close()
	w.client = nil
	return err
}

func (w *SSHRegisterWriter) dial(ctx context.Context) (*ssh.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		return w.client, nil
	}

	var auth []ssh.AuthMethod
	if w.cfg.Password != "" {
		auth = append(auth, ssh.Password(w.cfg.Password))
	}
	if w.cfg.KeyPath != "" {
		key, err := os.ReadFile(w.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	config := &ssh.ClientConfig{
		User:            w.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	addr := net.JoinHostPort(w.cfg.Host, fmt.Sprint(w.cfg.Port))
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}
	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create ssh client: %w", err)
	}
	w.client = ssh.NewClient(cc, chans, reqs)
	return w.client, nil
}

// registerPath is the register file of engine, e.g. <root>/M3202A_2/Gap.
func registerPath(root, engine, name string) string {
	return path.Join(root, engine, name)
}

func writeCommand(root, engine, name string, value int32) string {
	return fmt.Sprintf("printf %s > %s", shellQuote(fmt.Sprint(value)), shellQuote(registerPath(root, engine, name)))
}

// shellQuote wraps a value in single quotes, escaping embedded quotes.
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
