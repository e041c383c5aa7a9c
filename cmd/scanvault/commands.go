package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ScanVault/internal/client"
	"github.com/dharsanguruparan/ScanVault/internal/config"
	"github.com/dharsanguruparan/ScanVault/internal/database"
	"github.com/dharsanguruparan/ScanVault/internal/identity"
	"github.com/dharsanguruparan/ScanVault/internal/model"
	pdfutil "github.com/dharsanguruparan/ScanVault/internal/pdf"
)

type globalFlags struct {
	server string
	token  string
}

func newRootCommand(out io.Writer) *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "scanvault",
		Short: "ScanVault command line client",
		Long: `scanvault talks to a ScanVault server: submit scans as a capture operator,
list the review feed and export PDF reports as a reviewer. It also runs
database migrations and issues development tokens.`,
		SilenceUsage: true,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&g.server, "server", envOr("SCANVAULT_SERVER", "http://localhost:8080"), "ScanVault server base URL")
	cmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("SCANVAULT_TOKEN"), "Bearer token")
	cmd.AddCommand(
		newWhoamiCmd(g),
		newSubmitCmd(g),
		newFeedCmd(g),
		newExportCmd(g),
		newMigrateCmd(),
		newTokenCmd(),
	)
	return cmd
}

func (g *globalFlags) client() (*client.Client, error) {
	if g.token == "" {
		return nil, fmt.Errorf("a token is required (--token or SCANVAULT_TOKEN)")
	}
	return client.New(g.server, g.token), nil
}

func newWhoamiCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the caller's role and capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			id, err := c.Whoami(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), id)
		},
	}
}

func newSubmitCmd(g *globalFlags) *cobra.Command {
	var fields model.ScanFields
	var scanType, region, file string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload a scan image with its patient details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			image, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			fields.ScanType = model.ScanType(scanType)
			fields.Region = model.Region(region)
			rec, err := c.Submit(cmd.Context(), fields, filepath.Base(file), image)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&fields.PatientName, "name", "", "Patient name")
	cmd.Flags().StringVar(&fields.PatientID, "id", "", "Patient id")
	cmd.Flags().StringVar(&scanType, "scan-type", string(model.ScanTypeRGB), "Scan type")
	cmd.Flags().StringVar(&region, "region", string(model.RegionFrontal), "Region (Frontal, Upper Arch, Lower Arch)")
	cmd.Flags().StringVar(&file, "file", "", "Path to a JPEG or PNG image")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newFeedCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			scans, err := c.Feed(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), scans)
			}
			return writeFeed(cmd.OutOrStdout(), scans)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var outDir string
	var text bool
	cmd := &cobra.Command{
		Use:   "export <scan-id>",
		Short: "Download the PDF report for a scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			rep, err := c.Export(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if text {
				body, err := pdfutil.ExtractText(rep.PDF)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), body)
				return err
			}
			path := filepath.Join(outDir, rep.FileName)
			if err := os.WriteFile(path, rep.PDF, 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes, image embedded: %t)\n", path, len(rep.PDF), rep.ImageEmbedded)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory to write the PDF into")
	cmd.Flags().BoolVar(&text, "text", false, "Print the report text instead of saving the PDF")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations to SCANVAULT_DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("SCANVAULT_DATABASE_URL is not set")
			}
			return database.Migrate(cfg.DatabaseURL, config.SetupLogger(cfg))
		},
	}
}

func newTokenCmd() *cobra.Command {
	var p model.Principal
	var secret, issuer string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 development token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("a signing secret is required (--secret or SCANVAULT_JWT_SECRET)")
			}
			tok, err := identity.IssueHS256([]byte(secret), issuer, p, ttl)
			if err != nil {
				return err
			}
			slog.Debug("issued token", slog.String("subject", p.ID))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&p.ID, "subject", "", "Principal id (sub claim)")
	cmd.Flags().StringVar(&p.Email, "email", "", "Email claim")
	cmd.Flags().StringVar(&p.Name, "name", "", "Display name claim")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("SCANVAULT_JWT_SECRET"), "HS256 signing secret")
	cmd.Flags().StringVar(&issuer, "issuer", os.Getenv("SCANVAULT_JWT_ISSUER"), "Issuer claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func writeFeed(w io.Writer, scans []model.ScanRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATIENT\tPATIENT ID\tTYPE\tREGION\tUPLOADED")
	for _, s := range scans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.PatientName, s.PatientID, s.ScanType, s.Region, s.UploadedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
