package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// uploadCmd forces a dataset re-upload
var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Re-upload the dataset and print the cached file reference",
	Long: `Uploads dataset.path to the provider unconditionally, stores the new
reference in the configured cache backend and prints it. Use this after
replacing the dataset when the server is not watching it.`,
	Args: cobra.NoArgs,
	RunE: runUpload,
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cache == nil {
		if cfg.Dataset.Path == "" {
			return errors.New("no dataset configured (set dataset.path or DQ_DATASET_PATH)")
		}
		return fmt.Errorf("provider %s cannot host files", a.provider.Name)
	}

	ref, err := a.cache.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	logger.Info("Dataset uploaded", zap.String("name", ref.Name), zap.Time("expires_at", ref.ExpiresAt))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(ref)
}
