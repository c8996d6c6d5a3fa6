// Package uploader copies the local reading log to the collection host over
// SCP. Every upload opens its own SSH connection and closes it afterwards.
package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/ericogr/serial-env-uploader/pkg/config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const filePermissions = "0644"

// Session is an established remote connection able to receive one file.
type Session interface {
	CopyFile(ctx context.Context, r io.Reader, remotePath, permissions string) error
	Close() error
}

// DialFunc establishes a Session. It must not return a non-nil Session
// together with an error.
type DialFunc func(ctx context.Context) (Session, error)

type SCPUploader struct {
	host      string
	remoteDir string
	dial      DialFunc
	log       *slog.Logger
}

type Option func(*SCPUploader)

// WithDialer replaces the SSH dialer.
func WithDialer(d DialFunc) Option {
	return func(u *SCPUploader) { u.dial = d }
}

func New(cfg config.SSHConfig, log *slog.Logger, opts ...Option) (*SCPUploader, error) {
	u := &SCPUploader{host: cfg.Host, remoteDir: cfg.RemotePath, log: log}
	for _, o := range opts {
		o(u)
	}
	if u.dial == nil {
		cc, err := clientConfig(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.KnownHosts == "" {
			log.Warn("ssh host key verification disabled; set SSH_KNOWN_HOSTS to enable it", "host", cfg.Host)
		}
		addr := cfg.Addr()
		u.dial = func(ctx context.Context) (Session, error) {
			return dialSCP(ctx, addr, cc)
		}
	}
	return u, nil
}

func clientConfig(cfg config.SSHConfig) (*ssh.ClientConfig, error) {
	hostKey, err := hostKeyCallback(cfg.KnownHosts)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout(),
	}, nil
}

// hostKeyCallback verifies against a known_hosts file when one is given and
// accepts any key otherwise.
func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return cb, nil
}

// RemotePath is where localPath lands on the remote host.
func (u *SCPUploader) RemotePath(localPath string) string {
	return path.Join(u.remoteDir, filepath.Base(localPath))
}

// Upload sends localPath to the remote directory, keeping its file name.
func (u *SCPUploader) Upload(ctx context.Context, localPath string) error {
	u.log.Info("sending file", "file", localPath, "host", u.host)

	sess, err := u.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", u.host, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			u.log.Warn("ssh close failed", "host", u.host, "error", err)
		}
	}()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	remote := u.RemotePath(localPath)
	if err := sess.CopyFile(ctx, f, remote, filePermissions); err != nil {
		return fmt.Errorf("copy to %s:%s: %w", u.host, remote, err)
	}
	u.log.Info("file sent", "file", localPath, "host", u.host, "remote", remote)
	return nil
}

type scpSession struct {
	client *ssh.Client
	scp    scp.Client
}

func dialSCP(ctx context.Context, addr string, cc *ssh.ClientConfig) (Session, error) {
	d := net.Dialer{Timeout: cc.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cc.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(cc.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cc)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)
	sc, err := scp.NewClientBySSH(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("scp session: %w", err)
	}
	return &scpSession{client: client, scp: sc}, nil
}

func (s *scpSession) CopyFile(ctx context.Context, r io.Reader, remotePath, permissions string) error {
	return s.scp.CopyFile(ctx, r, remotePath, permissions)
}

// Close tears down the SSH connection, and with it any SCP channel.
func (s *scpSession) Close() error {
	return s.client.Close()
}
