package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"

	"github.com/hostvault/sitebak/pkg/backup"
	"github.com/hostvault/sitebak/pkg/config"
	"github.com/hostvault/sitebak/pkg/logger"
	"github.com/hostvault/sitebak/pkg/manifest"
)

var (
	version   = "unknown"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	logger.Init()
	cliapp := cli.NewApp()
	cliapp.Name = "sitebak"
	cliapp.Usage = "Backup, retention and restore for hosted tenant sites"
	cliapp.UsageText = "sitebak <command> [arguments]"
	cliapp.Version = version

	cliapp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  config.DefaultConfigPath,
			Usage:  "Config `FILE` name.",
			EnvVar: "SITEBAK_CONFIG",
		},
	}
	cliapp.CommandNotFound = func(c *cli.Context, command string) {
		fmt.Printf("Error. Unknown command: '%s'\n\n", command)
		cli.ShowAppHelpAndExit(c, 1)
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Println("Version:\t", c.App.Version)
		fmt.Println("Git Commit:\t", gitCommit)
		fmt.Println("Build Date:\t", buildDate)
	}

	cliapp.Commands = []cli.Command{
		{
			Name:      "backup",
			Usage:     "Back up all tenants, or one tenant by domain",
			UsageText: "sitebak backup [--database] [--files] [<domain>]",
			Action: func(c *cli.Context) error {
				b := newBackuper(c)
				scope := backup.ScopeAll
				if c.Args().First() != "" {
					scope = c.Args().First()
				}
				var kinds []manifest.ArtifactKind
				if c.Bool("database") {
					kinds = append(kinds, manifest.KindDatabase)
				}
				if c.Bool("files") {
					kinds = append(kinds, manifest.KindFiles, manifest.KindConfig)
				}
				_, err := b.CreateBackup(context.Background(), scope, kinds)
				return err
			},
			Flags: append(cliapp.Flags,
				cli.BoolFlag{
					Name:  "database",
					Usage: "Back up the database artifact only",
				},
				cli.BoolFlag{
					Name:  "files",
					Usage: "Back up the file tree and config artifacts only",
				},
			),
		},
		{
			Name:      "cleanup",
			Usage:     "Apply the retention policy to local backup runs",
			UsageText: "sitebak cleanup [--dry-run]",
			Action: func(c *cli.Context) error {
				b := newBackuper(c)
				result, err := b.ApplyRetention(context.Background(), c.Bool("dry-run"))
				if err != nil {
					return err
				}
				if c.Bool("dry-run") {
					log.Info().Int("would_delete", result.DeletedRuns).Uint64("would_free_bytes", result.FreedBytes).Msg("cleanup dry run done")
				} else {
					log.Info().Int("deleted", result.DeletedRuns).Uint64("freed_bytes", result.FreedBytes).Msg("cleanup done")
				}
				return nil
			},
			Flags: append(cliapp.Flags,
				cli.BoolFlag{
					Name:  "dry-run",
					Usage: "Print what would be deleted without deleting",
				},
			),
		},
		{
			Name:      "list",
			Usage:     "Print backup runs, optionally for one tenant",
			UsageText: "sitebak list [<domain>]",
			Action: func(c *cli.Context) error {
				return newBackuper(c).PrintRuns(os.Stdout, c.Args().First())
			},
			Flags: cliapp.Flags,
		},
		{
			Name:      "restore",
			Usage:     "Restore one tenant from a backup run",
			UsageText: "sitebak restore [--force] <domain> <runID>",
			Description: "Without --force only the pre-flight check runs. " +
				"<runID> may be 'latest'.",
			Action: func(c *cli.Context) error {
				if c.NArg() != 2 {
					cli.ShowCommandHelpAndExit(c, "restore", 1)
				}
				b := newBackuper(c)
				return b.Restore(context.Background(), c.Args().Get(0), c.Args().Get(1), c.Bool("force"))
			},
			Flags: append(cliapp.Flags,
				cli.BoolFlag{
					Name:  "force",
					Usage: "Overwrite the live site",
				},
			),
		},
		{
			Name:      "tenants",
			Usage:     "Print discovered tenants",
			UsageText: "sitebak tenants",
			Action: func(c *cli.Context) error {
				return newBackuper(c).PrintTenants(os.Stdout)
			},
			Flags: cliapp.Flags,
		},
		{
			Name:      "default-config",
			Usage:     "Print default config",
			UsageText: "sitebak default-config",
			Action: func(*cli.Context) error {
				config.PrintDefaultConfig()
				return nil
			},
			Flags: cliapp.Flags,
		},
	}
	if err := cliapp.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func newBackuper(c *cli.Context) *backup.Backuper {
	b := backup.NewBackuper(getConfig(c))
	b.Version = version
	return b
}

func getConfig(c *cli.Context) *config.Config {
	cfg, err := config.LoadConfig(c.GlobalString("config"))
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	return cfg
}
