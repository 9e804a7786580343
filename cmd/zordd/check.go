package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"zord/internal/engine"
)

type checkReport struct {
	engine.SanityReport
	Template string `json:"template"`
	Quota    string `json:"quota_backend"`
	Loaded   *bool  `json:"loaded,omitempty"`
	LoadErr  string `json:"load_error,omitempty"`
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and report whether the model can be served",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			load, _ := cmd.Flags().GetBool("load")
			eng := newEngine(cfg, zerolog.Nop(), nil)
			rep := checkReport{SanityReport: eng.SanityCheck(), Template: cfg.Model.Template, Quota: cfg.Quota.Backend}
			if load {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
				defer cancel()
				err := eng.Load(ctx)
				ok := err == nil
				rep.Loaded = &ok
				if err != nil {
					rep.LoadErr = err.Error()
				}
				_ = eng.Close(ctx)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if rep.Error != "" || rep.LoadErr != "" {
				return errors.New("check failed")
			}
			return nil
		},
	}
	cmd.Flags().Bool("load", false, "Also load the model (slow for large files).")
	return cmd
}
