package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/config"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/db"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/repository"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/repository/dao"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/service"
)

// Opener connects to the audit database.
type Opener func(opts *RootOptions) (*gorm.DB, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath  string
	DatabaseURL string

	open Opener
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(openPostgres)
}

func newRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "auditctl",
		Short: "Inspect applied inventory audits",
		Long:  "Read-only tooling over the audit_records table: list past sessions, export them to xlsx and verify an apply whose outcome is unknown.",
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "./cmd/app/config.yml", "path to the API config file")
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", "", "postgres URL; overrides the config file (env DATABASE_URL)")

	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))

	return cmd
}

// openPostgres never migrates: auditctl only reads tables the API created.
func openPostgres(opts *RootOptions) (*gorm.DB, error) {
	if opts.DatabaseURL != "" {
		return db.ConnectPostgresWithURL(opts.DatabaseURL)
	}

	conf, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("config.Load -> %w", err)
	}
	return db.ConnectPostgres(conf.Postgres)
}

// auditService builds a service that only serves history reads.
func (opts *RootOptions) auditService() (*service.AuditService, error) {
	conn, err := opts.open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database -> %w", err)
	}

	repo := repository.NewAuditRepository(dao.NewAuditDAO(conn), repository.LedgerAtomic, 0)
	return service.NewAuditService(service.Deps{Audits: repo}, service.Options{}), nil
}
