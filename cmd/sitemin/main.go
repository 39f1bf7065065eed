// Command sitemin optimizes a static site: selector mangling, text
// minification, responsive image sets, media re-encoding.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"

	"github.com/sitemin/sitemin/config"
	"github.com/sitemin/sitemin/faillog"
	"github.com/sitemin/sitemin/imageset"
	"github.com/sitemin/sitemin/preview"
	"github.com/sitemin/sitemin/report"
	"github.com/sitemin/sitemin/watch"
)

var (
	flagConfig string
	flagBase   string
	flagDest   string
)

var rootCmd = &cobra.Command{
	Use:   "sitemin",
	Short: "Batch asset optimizer for static sites",
	Long: "sitemin rewrites CSS selectors to short names, minifies web documents,\n" +
		"generates responsive image sets from real browser measurements, and\n" +
		"re-encodes media into efficient formats.",
	SilenceUsage: true,
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run the full optimization pipeline once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, base, err := loadRunConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return runPipeline(ctx, cfg, base)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run the pipeline whenever the source tree changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, base, err := loadRunConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		if err := runPipeline(ctx, cfg, base); err != nil {
			slog.Error("initial run failed", "error", err)
		}

		w, err := watch.New(base, watch.Options{
			Ignore: []string{
				cfg.DestPath,
				imageset.UpscaleCacheDirName,
				report.DefaultFileName,
				faillog.DefaultFileName,
			},
		})
		if err != nil {
			return err
		}
		defer w.Close()

		w.OnChange(ctx, func() error {
			return runPipeline(ctx, cfg, base)
		})
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the optimized destination tree over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadRunConfig()
		if err != nil {
			return err
		}
		addr, _ := cmd.Flags().GetString("addr")
		ctx, cancel := signalContext()
		defer cancel()
		return preview.New(addr, cfg.DestPath, slog.Default()).Serve(ctx)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter sitemin.yaml with the built-in defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(flagConfig); err != nil {
			return err
		}
		fmt.Println("wrote", config.ConfigFileName)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "List recent optimization runs from the local ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := report.LastRuns(cmd.Context(), "", limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no recorded runs")
			return nil
		}
		for _, r := range runs {
			took := "-"
			if !r.FinishedAt.IsZero() {
				took = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			fmt.Printf("%s  %-7s  %s -> %s  warnings=%d  took=%s\n",
				r.StartedAt.Format("2006-01-02 15:04:05"), r.Status,
				r.BasePath, r.DestPath, r.Warnings, took)
			if r.Error != "" {
				fmt.Printf("    error: %s\n", r.Error)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default sitemin.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flagBase, "base", "b", ".", "source tree root")
	rootCmd.PersistentFlags().StringVarP(&flagDest, "dest", "d", "", "destination root (overrides config)")

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	reportCmd.Flags().Int("limit", 10, "number of runs to list")

	rootCmd.AddCommand(optimizeCmd, watchCmd, serveCmd, initCmd, reportCmd)
}

func loadRunConfig() (*config.Config, string, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, "", err
	}
	if flagDest != "" {
		cfg.DestPath = flagDest
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, flagBase, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	var lvl slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}
