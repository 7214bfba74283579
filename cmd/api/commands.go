package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nongsaijai/api/internal/auth"
	"nongsaijai/api/internal/export"
	"nongsaijai/api/internal/risk"
	"nongsaijai/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|version]",
	Short: "Apply or roll back the embedded database migrations",
	Long: `Apply or roll back the embedded database migrations.

Examples:
  # Apply pending migrations
  nsj-api migrate up

  # Show the current schema version
  nsj-api migrate version`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down", "version"},
	RunE:      runMigrate,
}

var (
	exportOut     string
	exportFormat  string
	exportStatus  string
	exportProject string
	exportArchive bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render reports without going through the API",
}

var exportExecutiveCmd = &cobra.Command{
	Use:   "executive",
	Short: "Write the executive summary of the effective sessions",
	Long: `Write the executive summary of the effective sessions to a file.

Examples:
  nsj-api export executive --format xlsx --out ./reports
  nsj-api export executive --format pdf --status ISSUE --archive`,
	RunE: runExportExecutive,
}

var (
	tokenSub   string
	tokenName  string
	tokenEmail string
	tokenAdmin bool
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Portal token helpers for local development",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign a portal token with NSJ_TOKEN_SECRET",
	RunE:  runTokenIssue,
}

func init() {
	exportExecutiveCmd.Flags().StringVar(&exportOut, "out", ".", "output file or directory")
	exportExecutiveCmd.Flags().StringVar(&exportFormat, "format", "xlsx", "xlsx or pdf")
	exportExecutiveCmd.Flags().StringVar(&exportStatus, "status", "", "only sessions with this effective status")
	exportExecutiveCmd.Flags().StringVar(&exportProject, "proj-code", "", "only sessions of this project")
	exportExecutiveCmd.Flags().BoolVar(&exportArchive, "archive", false, "also upload the file to object storage")
	exportCmd.AddCommand(exportExecutiveCmd)

	tokenIssueCmd.Flags().StringVar(&tokenSub, "sub", "", "portal user id")
	tokenIssueCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenIssueCmd.Flags().StringVar(&tokenEmail, "email", "", "email address")
	tokenIssueCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "grant the management role")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 10*time.Minute, "token lifetime")
	_ = tokenIssueCmd.MarkFlagRequired("sub")
	_ = tokenIssueCmd.MarkFlagRequired("name")
	tokenCmd.AddCommand(tokenIssueCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runMigrate(cmd *cobra.Command, args []string) error {
	db, err := store.Open(commandContext(cmd), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "up":
		err = store.MigrateUp(db)
	case "down":
		err = store.MigrateDown(db)
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q", args[0])
	}
	if err != nil {
		return err
	}
	return printVersion(cmd, db)
}

func printVersion(cmd *cobra.Command, db *sql.DB) error {
	version, dirty, err := store.MigrationVersion(db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
	return nil
}

func runExportExecutive(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	filter := store.SessionFilter{ProjectCode: strings.ToUpper(strings.TrimSpace(exportProject))}
	if strings.TrimSpace(exportStatus) != "" {
		status, err := risk.ParseStatus(exportStatus)
		if err != nil {
			return err
		}
		filter.Status = &status
	}

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if exportArchive && !rt.export.CanArchive() {
		return fmt.Errorf("--archive needs MINIO_ENDPOINT")
	}

	result, err := rt.export.Executive(ctx, filter, format)
	if err != nil {
		return err
	}
	path := exportOut
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, result.Filename)
	}
	if err := os.WriteFile(path, result.Data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	logger.Info("executive summary written", zap.String("path", path), zap.Int("bytes", len(result.Data)))

	if exportArchive {
		key, err := rt.export.Archive(ctx, result)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "archived as %s\n", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runTokenIssue(cmd *cobra.Command, _ []string) error {
	if strings.TrimSpace(cfg.TokenSecret) == "" {
		return fmt.Errorf("NSJ_TOKEN_SECRET is not set")
	}
	token, err := auth.IssueToken([]byte(cfg.TokenSecret), auth.Claims{
		Sub:   tokenSub,
		Name:  tokenName,
		Email: tokenEmail,
		Admin: tokenAdmin,
		Exp:   time.Now().Add(tokenTTL).Unix(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
