package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"event-extractor/internal/models"
)

var (
	seedFile   string
	seedVerify bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create or update tenants from a YAML file",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "tenants.yaml", "tenant definitions")
	seedCmd.Flags().BoolVar(&seedVerify, "verify", false, "test each tenant's connection after saving it")
}

// parseSeed reads and validates a tenant file. Omitted toggles default to
// active and both categories enabled.
func parseSeed(r io.Reader) ([]models.Tenant, error) {
	var raw struct {
		Tenants []yaml.Node `yaml:"tenants"`
	}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	seen := map[string]bool{}
	out := make([]models.Tenant, 0, len(raw.Tenants))
	for i, node := range raw.Tenants {
		t := models.Tenant{Active: true, ExtractCustomEvents: true, ExtractStandardEvents: true}
		if err := node.Decode(&t); err != nil {
			return nil, fmt.Errorf("tenant %d: %w", i, err)
		}
		switch {
		case t.ID == "":
			return nil, fmt.Errorf("tenant %d: tenant_id is required", i)
		case t.APIURL == "":
			return nil, fmt.Errorf("tenant %s: api_url is required", t.ID)
		case seen[t.ID]:
			return nil, fmt.Errorf("tenant %s: duplicate tenant_id", t.ID)
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, errors.New("seed file has no tenants")
	}
	return out, nil
}

func runSeed(cmd *cobra.Command, _ []string) error {
	f, err := os.Open(seedFile)
	if err != nil {
		return err
	}
	defer f.Close()
	tenants, err := parseSeed(f)
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	client := newSourceClient(cfg, logger)

	failed := 0
	for _, t := range tenants {
		if err := st.UpsertTenant(ctx, t); err != nil {
			return err
		}
		log := logger.With().Str("tenant_id", t.ID).Logger()
		log.Info().Msg("tenant saved")
		if seedVerify {
			if client.TestConnection(ctx, t) {
				log.Info().Msg("connection ok")
			} else {
				failed++
				log.Warn().Msg("connection failed")
			}
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d tenants\n", len(tenants))
	if failed > 0 {
		return fmt.Errorf("%d tenants failed the connection test", failed)
	}
	return nil
}
