package pidlock

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// CheckAndCreatePidFile takes the advisory lock for one tenant. Backup and
// restore of the same tenant share the lock, so they serialize while other
// tenants proceed. A pid file left by a dead process is treated as stale and
// overwritten.
func CheckAndCreatePidFile(domain string, command string) error {
	if domain == "" {
		return fmt.Errorf("domain is required")
	}
	pidPath := path.Join(os.TempDir(), fmt.Sprintf("sitebak.%s.pid", domain))
	existingPidData, err := os.ReadFile(pidPath)
	if err == nil {
		parts := strings.SplitN(strings.TrimSpace(string(existingPidData)), "|", 3)
		if len(parts) < 3 {
			log.Warn().Msgf("Invalid PID file format in %s - will be overwritten", pidPath)
		} else if pid, err := strconv.Atoi(parts[0]); err == nil {
			if proc, err := os.FindProcess(pid); err == nil {
				if err := proc.Signal(syscall.Signal(0)); err == nil {
					if procInfo, infoErr := process.NewProcess(int32(pid)); infoErr == nil {
						if cmdLine, cmdLineErr := procInfo.Cmdline(); cmdLineErr == nil {
							return fmt.Errorf(
								"another sitebak `%s` command is already running on %s since %s (pid=%d, pidPath=%s, cmdLine=%s)",
								parts[1], domain, parts[2], pid, pidPath, cmdLine,
							)
						} else {
							log.Warn().Err(cmdLineErr).Str("pidPath", pidPath).Int("pid", pid).Msg("can't get cmdLine")
						}
					} else {
						log.Warn().Err(infoErr).Str("pidPath", pidPath).Int("pid", pid).Msg("can't get process info")
					}
				}
			}
		}
	}

	pid := fmt.Sprintf("%d|%s|%s", os.Getpid(), command, time.Now().Format(time.RFC3339))
	return os.WriteFile(pidPath, []byte(pid), 0644)
}

func RemovePidFile(domain string) {
	pidPath := path.Join(os.TempDir(), fmt.Sprintf("sitebak.%s.pid", domain))
	_ = os.Remove(pidPath)
}
