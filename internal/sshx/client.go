// SPDX-License-Identifier: MIT

// Package sshx wraps SSH command execution and SFTP file transfer for the
// backup runners.
package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/backhaul/backhaul/internal/log"
)

// Config describes how to reach a remote machine.
type Config struct {
	Host     string
	Port     int // defaults to 22
	User     string
	KeyPath  string // preferred when set
	Password string // fallback when no key is configured
	Timeout  time.Duration
}

// Client is a connected SSH session with an on-demand SFTP channel.
type Client struct {
	cfg  Config
	conn *ssh.Client
	sftp *sftp.Client
}

// Dial connects to the remote machine using key or password authentication.
// Key authentication wins when both are configured.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User: cfg.User,
		Auth: auth,
		// Backup targets are provisioned out of band; host keys are not
		// pinned, matching the previous deployment behaviour.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // #nosec G106
		Timeout:         cfg.Timeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	dialer := net.Dialer{Timeout: cfg.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientCfg)
	if err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	logger := log.WithComponentFromContext(ctx, "sshx")
	logger.Info().
		Str(log.FieldHost, addr).
		Str("user", cfg.User).
		Bool("key_auth", cfg.KeyPath != "").
		Msg("connected")

	return &Client{cfg: cfg, conn: ssh.NewClient(sshConn, chans, reqs)}, nil
}

func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key %s: %w", cfg.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key %s: %w", cfg.KeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if cfg.Password != "" {
		return []ssh.AuthMethod{ssh.Password(cfg.Password)}, nil
	}
	return nil, errors.New("no authentication method configured (key or password)")
}

// Result carries the outcome of one remote command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Run executes a command on the remote host and waits for it to finish.
// A non-zero exit status is reported via Result, not as an error.
func (c *Client) Run(ctx context.Context, cmd string) (Result, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open ssh session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	logger := log.WithComponentFromContext(ctx, "sshx")
	logger.Debug().
		Str(log.FieldHost, c.cfg.Host).
		Str("cmd", cmd).
		Msg("executing remote command")

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return Result{}, ctx.Err()
	case err = <-done:
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, fmt.Errorf("run remote command: %w", err)
	}
	return res, nil
}

// DownloadDir recursively copies a remote directory to a local one via SFTP.
func (c *Client) DownloadDir(ctx context.Context, remoteDir, localDir string) error {
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(localDir, 0o770); err != nil {
		return fmt.Errorf("create local dir %s: %w", localDir, err)
	}
	logger := log.WithComponentFromContext(ctx, "sshx")

	entries, err := client.ReadDir(remoteDir)
	if err != nil {
		return fmt.Errorf("list remote dir %s: %w", remoteDir, err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		remotePath := path.Join(remoteDir, entry.Name())
		localPath := filepath.Join(localDir, entry.Name())
		if entry.IsDir() {
			if err := c.DownloadDir(ctx, remotePath, localPath); err != nil {
				return err
			}
			continue
		}
		if err := c.downloadFile(client, remotePath, localPath); err != nil {
			return err
		}
		logger.Debug().
			Str(log.FieldPath, remotePath).
			Msg("downloaded")
	}
	return nil
}

func (c *Client) downloadFile(client *sftp.Client, remotePath, localPath string) error {
	src, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote file %s: %w", remotePath, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o660) // #nosec G304
	if err != nil {
		return fmt.Errorf("create local file %s: %w", localPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	return dst.Close()
}

// RemoveAll deletes a directory tree on the remote host.
func (c *Client) RemoveAll(ctx context.Context, remoteDir string) error {
	res, err := c.Run(ctx, fmt.Sprintf("rm -rf %q", remoteDir))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("remove remote dir %s: %s", remoteDir, res.Stderr)
	}
	return nil
}

// Close shuts down the SFTP channel and the SSH connection.
func (c *Client) Close() error {
	if c.sftp != nil {
		_ = c.sftp.Close()
		c.sftp = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) sftpClient() (*sftp.Client, error) {
	if c.sftp != nil {
		return c.sftp, nil
	}
	client, err := sftp.NewClient(c.conn)
	if err != nil {
		return nil, fmt.Errorf("open sftp channel: %w", err)
	}
	c.sftp = client
	return client, nil
}
