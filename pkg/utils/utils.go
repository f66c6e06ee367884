package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	day  = time.Minute * 60 * 24
	year = 365 * day
)

// FormatBytes - Convert bytes to human-readable string
func FormatBytes(i uint64) string {
	const (
		KiB = 1024
		MiB = 1048576
		GiB = 1073741824
		TiB = 1099511627776
	)
	switch {
	case i >= TiB:
		return fmt.Sprintf("%.02fTiB", float64(i)/TiB)
	case i >= GiB:
		return fmt.Sprintf("%.02fGiB", float64(i)/GiB)
	case i >= MiB:
		return fmt.Sprintf("%.02fMiB", float64(i)/MiB)
	case i >= KiB:
		return fmt.Sprintf("%.02fKiB", float64(i)/KiB)
	default:
		return fmt.Sprintf("%dB", i)
	}
}

func HumanizeDuration(d time.Duration) string {
	if d < day {
		return d.Round(time.Millisecond).String()
	}
	var b strings.Builder
	if d >= year {
		years := d / year
		if _, err := fmt.Fprintf(&b, "%dy", years); err != nil {
			log.Warn().Msgf("HumanizeDuration error: %v", err)
		}
		d -= years * year
	}
	days := d / day
	d -= days * day
	if _, err := fmt.Fprintf(&b, "%dd%s", days, d); err != nil {
		log.Warn().Msgf("HumanizeDuration error: %v", err)
	}
	return b.String()
}

func ExecCmd(ctx context.Context, timeout time.Duration, cmd string, args ...string) error {
	out, err := ExecCmdOut(ctx, timeout, cmd, args...)
	log.Debug().Msg(out)
	return err
}

func ExecCmdOut(ctx context.Context, timeout time.Duration, cmd string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	log.Debug().Msgf("%s %s", cmd, strings.Join(args, " "))
	out, err := exec.CommandContext(ctx, cmd, args...).CombinedOutput()
	cancel()
	return string(out), err
}

// ExecCmdPipeOut runs cmd with extra environment variables and streams its
// stdout into w. Stderr is captured and attached to the returned error.
func ExecCmdPipeOut(ctx context.Context, env []string, w io.Writer, cmd string, args ...string) error {
	log.Debug().Msgf("%s %s", cmd, strings.Join(args, " "))
	c := exec.CommandContext(ctx, cmd, args...)
	c.Env = append(c.Environ(), env...)
	c.Stdout = w
	var stderr bytes.Buffer
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return cmdError(ctx, cmd, err, &stderr)
	}
	return nil
}

// ExecCmdPipeIn runs cmd with extra environment variables, feeding r to its
// stdin.
func ExecCmdPipeIn(ctx context.Context, env []string, r io.Reader, cmd string, args ...string) error {
	log.Debug().Msgf("%s %s", cmd, strings.Join(args, " "))
	c := exec.CommandContext(ctx, cmd, args...)
	c.Env = append(c.Environ(), env...)
	c.Stdin = r
	var stderr bytes.Buffer
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return cmdError(ctx, cmd, err, &stderr)
	}
	return nil
}

func cmdError(ctx context.Context, cmd string, err error, stderr *bytes.Buffer) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", cmd, ctx.Err())
	}
	msg := strings.TrimSpace(stderr.String())
	if len(msg) > 512 {
		msg = msg[len(msg)-512:]
	}
	if msg == "" {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return fmt.Errorf("%s: %w: %s", cmd, err, msg)
}
