package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/reporter/agent/internal/config"
	"github.com/obsidianstack/reporter/agent/internal/security"
	"github.com/obsidianstack/reporter/agent/internal/trust"
	"github.com/obsidianstack/reporter/pkg/types"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Report the TLS certificate of each configured collector",
		Long: `Dials every reporter.server_urls entry with the configured trust policy and
prints one JSON certificate status per line. Exits non-zero when any
collector is unreachable, untrusted or expired.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			policy := trust.Resolve(cfg.Reporter.VerifyServerCert)
			enc := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for _, u := range cfg.Reporter.ServerURLs {
				cs := security.Probe(cmd.Context(), u, policy, cfg.Reporter.ConnectTimeout)
				if err := enc.Encode(cs); err != nil {
					return err
				}
				switch cs.Status {
				case types.CertUnreachable, types.CertUntrusted, types.CertExpired:
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d collectors failed the certificate probe", failed, len(cfg.Reporter.ServerURLs))
			}
			return nil
		},
	}
}
