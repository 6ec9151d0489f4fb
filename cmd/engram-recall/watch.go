package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/engram-recall/internal/config"
	"github.com/thebtf/engram-recall/internal/intent"
	"github.com/thebtf/engram-recall/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Validate and reload intent weights and settings as they change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := loadConfig()

			intents, err := intent.Load(cfg.IntentsPath)
			if err != nil {
				log.Warn().Err(err).Str("path", cfg.IntentsPath).Msg("Invalid intent weights, using defaults")
				intents = intent.NewRegistry()
			}

			iw, err := watcher.New(cfg.IntentsPath, func(path string) {
				if err := intents.Reload(path); err != nil {
					log.Error().Err(err).Str("path", path).Msg("Rejected intent weights, keeping previous")
					return
				}
				log.Info().Str("path", path).Msg("Intent weights reloaded")
			})
			if err != nil {
				return err
			}
			if err := iw.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = iw.Stop() }()

			sw, err := watcher.New(config.SettingsPath(), func(string) {
				next := loadConfig()
				log.Info().
					Str("strategy", next.Retrieval.Strategy).
					Float64("hybrid_alpha", next.Retrieval.HybridAlpha).
					Int("rrf_k", next.Retrieval.RRFK).
					Bool("smart_priority", next.SmartPriority.Enabled).
					Msg("Settings reloaded")
			})
			if err != nil {
				return err
			}
			if err := sw.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = sw.Stop() }()

			log.Info().Str("intents", cfg.IntentsPath).Str("settings", config.SettingsPath()).Msg("Watching for changes")
			<-ctx.Done()
			return nil
		},
	}
}
