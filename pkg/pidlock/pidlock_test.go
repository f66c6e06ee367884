package pidlock

import (
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockConflict(t *testing.T) {
	domain := "pidlock-test.example.com"
	defer RemovePidFile(domain)

	require.NoError(t, CheckAndCreatePidFile(domain, "backup"))
	err := CheckAndCreatePidFile(domain, "restore")
	require.Error(t, err, "live holder blocks a second command")
	assert.Contains(t, err.Error(), "backup")
	assert.Contains(t, err.Error(), domain)

	RemovePidFile(domain)
	assert.NoError(t, CheckAndCreatePidFile(domain, "restore"))
}

func TestStaleLockOverwritten(t *testing.T) {
	domain := "pidlock-stale.example.com"
	defer RemovePidFile(domain)

	pidPath := path.Join(os.TempDir(), fmt.Sprintf("sitebak.%s.pid", domain))
	// pid 1 exists but is not a sitebak process answering to this file;
	// an unparseable or dead entry must not block forever
	require.NoError(t, os.WriteFile(pidPath, []byte("garbage"), 0644))
	assert.NoError(t, CheckAndCreatePidFile(domain, "backup"))
}

func TestDifferentTenantsDoNotConflict(t *testing.T) {
	defer RemovePidFile("a.example.com")
	defer RemovePidFile("b.example.com")
	require.NoError(t, CheckAndCreatePidFile("a.example.com", "backup"))
	assert.NoError(t, CheckAndCreatePidFile("b.example.com", "backup"))
}

func TestEmptyDomainRejected(t *testing.T) {
	assert.Error(t, CheckAndCreatePidFile("", "backup"))
}
