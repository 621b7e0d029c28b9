package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Run executes cmd in a fresh session and returns its trimmed output. The
// command is bounded by ctx and CommandTimeout; when either expires the
// remote process is signalled and the context error is returned.
//
// A non-zero exit is a permanent error. Session and transport failures are
// temporary, so the caller may retry after reconnecting.
func (c *Client) Run(ctx context.Context, cmd string) (string, string, error) {
	if d := c.config.CommandTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	conn, err := c.client()
	if err != nil {
		return "", "", err
	}
	session, err := conn.NewSession()
	if err != nil {
		return "", "", c.newError("exec", fmt.Errorf("open session: %w", err), true)
	}
	defer session.Close()

	var out, errOut bytes.Buffer
	session.Stdout, session.Stderr = &out, &errOut

	started := time.Now()
	result := make(chan error, 1)
	go func() { result <- session.Run(cmd) }()

	select {
	case err = <-result:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Signal(ssh.SIGKILL)
		err = ctx.Err()
	}

	stdout := strings.TrimSpace(out.String())
	stderr := strings.TrimSpace(errOut.String())

	log.Debug().
		Str("device", c.config.DeviceName()).
		Str("command", cmd).
		Dur("took", time.Since(started)).
		Err(err).
		Msg("ssh exec")

	var exit *ssh.ExitError
	switch {
	case err == nil:
		return stdout, stderr, nil
	case errors.As(err, &exit):
		return stdout, stderr, c.newError("exec",
			fmt.Errorf("%q exited %d: %s: %w", cmd, exit.ExitStatus(), stderr, exit), false)
	default:
		return stdout, stderr, c.newError("exec", err, true)
	}
}

// RunPrivileged prefixes cmd with "sudo -n" on devices configured for sudo.
func (c *Client) RunPrivileged(ctx context.Context, cmd string) (string, string, error) {
	if c.config.UseSudo {
		cmd = "sudo -n " + cmd
	}
	return c.Run(ctx, cmd)
}

// RunAll runs commands privileged, in order, stopping at the first failure.
func (c *Client) RunAll(ctx context.Context, commands []string) error {
	for i, cmd := range commands {
		if _, _, err := c.RunPrivileged(ctx, cmd); err != nil {
			return fmt.Errorf("step %d/%d: %w", i+1, len(commands), err)
		}
	}
	return nil
}
