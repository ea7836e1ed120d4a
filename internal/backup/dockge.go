// SPDX-License-Identifier: MIT

package backup

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/backhaul/backhaul/internal/log"
	"github.com/backhaul/backhaul/internal/machines"
	"github.com/backhaul/backhaul/internal/sshx"
)

// Defaults mirrored from the machine schema.
const (
	defaultSSHPort        = 22
	defaultRetentionCount = 30
	defaultRemoteTmpDir   = "/tmp/dockge-backup"
)

// Session is the remote access a runner needs. *sshx.Client implements it.
type Session interface {
	Run(ctx context.Context, cmd string) (sshx.Result, error)
	DownloadDir(ctx context.Context, remoteDir, localDir string) error
	RemoveAll(ctx context.Context, remoteDir string) error
	Close() error
}

// DialFunc opens a remote session; stubbed in tests.
type DialFunc func(ctx context.Context, cfg sshx.Config) (Session, error)

// DockgeRunner backs up Dockge stacks: it tars every stack under the stacks
// directory plus the dockge directory itself on the remote machine, pulls the
// archives down via SFTP, verifies them, cleans the remote staging area and
// prunes local archives beyond the machine's retention count.
type DockgeRunner struct {
	StacksDir  string
	DockgeDir  string
	SSHTimeout time.Duration

	dial DialFunc
	// now allows tests to pin the archive timestamp.
	now func() time.Time
}

// NewDockgeRunner returns a runner with the standard Dockge layout.
func NewDockgeRunner(sshTimeout time.Duration) *DockgeRunner {
	return &DockgeRunner{
		StacksDir:  "/opt/stacks",
		DockgeDir:  "/opt/dockge",
		SSHTimeout: sshTimeout,
		dial: func(ctx context.Context, cfg sshx.Config) (Session, error) {
			return sshx.Dial(ctx, cfg)
		},
		now: time.Now,
	}
}

// Execute runs the complete Dockge backup workflow for one machine.
func (d *DockgeRunner) Execute(ctx context.Context, machine machines.Record) (string, error) {
	localDir := stringField(machine, "local_backup_dir", "")
	if localDir == "" {
		return "", fmt.Errorf("local_backup_dir not configured for machine %q", machine.ID())
	}

	session, err := d.dial(ctx, sshx.Config{
		Host:     stringField(machine, "host", ""),
		Port:     intField(machine, "ssh_port", defaultSSHPort),
		User:     stringField(machine, "ssh_user", "root"),
		KeyPath:  stringField(machine, "ssh_key_path", ""),
		Password: stringField(machine, "ssh_password", ""),
		Timeout:  d.SSHTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", stringField(machine, "host", ""), err)
	}
	defer func() { _ = session.Close() }()

	// Year_dayofyear_HMS, same scheme the archives were always named with.
	timestamp := d.now().Format("2006_002_150405")
	remoteTmp := stringField(machine, "remote_tmp_dir", defaultRemoteTmpDir)

	if err := d.mkdirRemote(ctx, session, remoteTmp); err != nil {
		return "", err
	}

	stackCount, err := d.backupStacks(ctx, session, remoteTmp, timestamp)
	if err != nil {
		return "", err
	}
	if err := d.backupDockgeDir(ctx, session, remoteTmp, timestamp); err != nil {
		return "", err
	}

	if err := session.DownloadDir(ctx, remoteTmp, localDir); err != nil {
		return "", fmt.Errorf("download backups: %w", err)
	}
	if err := verifyArchives(localDir); err != nil {
		return "", err
	}

	logger := log.WithComponentFromContext(ctx, "backup")
	if err := session.RemoveAll(ctx, remoteTmp); err != nil {
		logger.Warn().Err(err).Str(log.FieldPath, remoteTmp).Msg("remote cleanup failed")
	}

	retention := intField(machine, "retention_count", defaultRetentionCount)
	if err := pruneOldArchives(localDir, retention); err != nil {
		logger.Warn().Err(err).Str(log.FieldPath, localDir).Msg("retention pruning failed")
	}

	return fmt.Sprintf("backed up %d stacks for %s", stackCount, machine.ID()), nil
}

func (d *DockgeRunner) mkdirRemote(ctx context.Context, session Session, dir string) error {
	res, err := session.Run(ctx, fmt.Sprintf("mkdir -p %q", dir))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("create remote dir %s: %s", dir, res.Stderr)
	}
	return nil
}

// backupStacks tars every stack directory under StacksDir into the staging
// area and returns the number of stacks archived.
func (d *DockgeRunner) backupStacks(ctx context.Context, session Session, remoteTmp, timestamp string) (int, error) {
	res, err := session.Run(ctx, fmt.Sprintf("find %q -maxdepth 1 -type d ! -path %q", d.StacksDir, d.StacksDir))
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("list stacks: %s", res.Stderr)
	}

	var stacks []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			stacks = append(stacks, line)
		}
	}
	if len(stacks) == 0 {
		logger := log.WithComponentFromContext(ctx, "backup")
		logger.Info().Msg("no stacks found to back up")
		return 0, nil
	}

	for _, stackPath := range stacks {
		stackName := path.Base(stackPath)
		stackDir := path.Join(remoteTmp, stackName)
		if err := d.mkdirRemote(ctx, session, stackDir); err != nil {
			return 0, err
		}

		archive := path.Join(stackDir, fmt.Sprintf("%s_%s.tar.gz", stackName, timestamp))
		var cmd string
		if stackName == "fireshare" {
			// fireshare carries a large videos/ folder that is backed up elsewhere.
			cmd = fmt.Sprintf("tar -czf %q --exclude=%q -C %q %q", archive, "videos", d.StacksDir, stackName)
		} else {
			cmd = fmt.Sprintf("tar -czf %q -C %q %q", archive, d.StacksDir, stackName)
		}

		res, err := session.Run(ctx, cmd)
		if err != nil {
			return 0, err
		}
		if res.ExitCode != 0 {
			return 0, fmt.Errorf("archive stack %s: %s", stackName, res.Stderr)
		}
	}
	return len(stacks), nil
}

// backupDockgeDir tars the dockge installation directory itself. A missing
// directory is skipped, not an error.
func (d *DockgeRunner) backupDockgeDir(ctx context.Context, session Session, remoteTmp, timestamp string) error {
	res, err := session.Run(ctx, fmt.Sprintf("[ -d %q ] && echo exists", d.DockgeDir))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 || !strings.Contains(res.Stdout, "exists") {
		logger := log.WithComponentFromContext(ctx, "backup")
		logger.Warn().
			Str(log.FieldPath, d.DockgeDir).
			Msg("dockge directory not found, skipping")
		return nil
	}

	stagingDir := path.Join(remoteTmp, "dockge")
	if err := d.mkdirRemote(ctx, session, stagingDir); err != nil {
		return err
	}

	archive := path.Join(stagingDir, fmt.Sprintf("dockge_%s.tar.gz", timestamp))
	cmd := fmt.Sprintf("tar -czf %q -C %q %q", archive, path.Dir(d.DockgeDir), path.Base(d.DockgeDir))
	res, err = session.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("archive dockge dir: %s", res.Stderr)
	}
	return nil
}
