// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

//go:build unix

package executor

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// configureProcessGroup puts the child in its own process group and makes
// context cancellation signal the whole group, so grandchildren spawned by
// the command die with it.
//
// With a zero grace period the group gets SIGKILL at once. Otherwise it gets
// SIGTERM and, if still alive after grace, SIGKILL.
func configureProcessGroup(cmd *exec.Cmd, grace time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if grace <= 0 {
		cmd.Cancel = func() error {
			return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		}
		return
	}

	cmd.Cancel = func() error {
		pgid := -cmd.Process.Pid
		if err := unix.Kill(pgid, unix.SIGTERM); err != nil {
			// group already gone or not signalable
			return unix.Kill(pgid, unix.SIGKILL)
		}
		time.AfterFunc(grace, func() {
			// ESRCH from an exited group is harmless
			_ = unix.Kill(pgid, unix.SIGKILL)
		})
		return nil
	}
}
