package database

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hostvault/sitebak/pkg/config"
	"github.com/hostvault/sitebak/pkg/utils"
)

// Client is the narrow contract the backup and restore pipelines depend on.
// Dump streams a consistent logical dump of one database into w; Restore
// feeds a dump from r back into the server. Implementations must stream,
// never buffer a whole dump.
type Client interface {
	Dump(ctx context.Context, database string, w io.Writer) error
	Restore(ctx context.Context, database string, r io.Reader) error
	Version(ctx context.Context) string
}

// MySQL shells out to the mysqldump and mysql binaries. The password goes
// through MYSQL_PWD so it never appears in the process list.
type MySQL struct {
	cfg config.MySQLConfig
}

func NewMySQL(cfg config.MySQLConfig) *MySQL {
	return &MySQL{cfg: cfg}
}

func (m *MySQL) connArgs() []string {
	return []string{
		fmt.Sprintf("--host=%s", m.cfg.Host),
		fmt.Sprintf("--port=%d", m.cfg.Port),
		fmt.Sprintf("--user=%s", m.cfg.Username),
	}
}

func (m *MySQL) env() []string {
	return []string{"MYSQL_PWD=" + m.cfg.Password}
}

// Dump produces a transactionally consistent dump via --single-transaction,
// so InnoDB tables are read at one snapshot without locking writers.
func (m *MySQL) Dump(ctx context.Context, database string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.TimeoutDuration)
	defer cancel()
	args := append(m.connArgs(),
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--add-drop-table",
		database,
	)
	return utils.ExecCmdPipeOut(ctx, m.env(), w, m.cfg.DumpBinary, args...)
}

func (m *MySQL) Restore(ctx context.Context, database string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.TimeoutDuration)
	defer cancel()
	args := append(m.connArgs(), database)
	return utils.ExecCmdPipeIn(ctx, m.env(), r, m.cfg.ClientBinary, args...)
}

// Version asks the server for its version string. Best effort, an empty
// string on any failure.
func (m *MySQL) Version(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var out strings.Builder
	args := append(m.connArgs(), "-N", "-B", "-e", "SELECT VERSION()")
	if err := utils.ExecCmdPipeOut(ctx, m.env(), &out, m.cfg.ClientBinary, args...); err != nil {
		return ""
	}
	return strings.TrimSpace(out.String())
}
