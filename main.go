package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"finsight/features/chat"
	"finsight/features/snapshot"
	"finsight/internal/app"
	"finsight/internal/config"
	"finsight/internal/logger"
	"finsight/internal/middleware"
)

var (
	debug    bool
	askUser  string
	askName  string
	syncMode bool

	importEvent string
	importYear  int
	importNotes string
)

var rootCmd = &cobra.Command{
	Use:   "finsight",
	Short: "Financial records assistant",
	Long:  "Answers questions about live and archived event finances, and turns archived snapshots into searchable chunks.",
	// A bare invocation serves, as the container entrypoint expects.
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the snapshot worker",
		RunE:  runServe,
	})

	reprocessCmd := &cobra.Command{
		Use:   "reprocess <sourceKey>",
		Short: "Queue (or run with --sync) a rebuild of a snapshot's chunks",
		Args:  cobra.ExactArgs(1),
		RunE:  runReprocess,
	}
	reprocessCmd.Flags().BoolVar(&syncMode, "sync", false, "Process in this process instead of queueing")
	rootCmd.AddCommand(reprocessCmd)

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	askCmd.Flags().StringVar(&askUser, "user", "", "User id for history")
	askCmd.Flags().StringVar(&askName, "name", "", "User display name")
	rootCmd.AddCommand(askCmd)

	importCmd := &cobra.Command{
		Use:   "import <workbook.xlsx>",
		Short: "Archive an event from a spreadsheet and queue it for processing",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	importCmd.Flags().StringVar(&importEvent, "event", "", "Event name")
	importCmd.Flags().IntVar(&importYear, "year", 0, "Event year")
	importCmd.Flags().StringVar(&importNotes, "notes", "", "Free-text notes kept with the snapshot")
	_ = importCmd.MarkFlagRequired("event")
	_ = importCmd.MarkFlagRequired("year")
	rootCmd.AddCommand(importCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	l := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	slog.SetDefault(l)
	return l
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	l := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := run(cmd.Context(), cfg, l); err != nil {
		slog.Error("server failed", "error", err)
		return err
	}
	return nil
}

// run bootstraps infrastructure and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	application, err := app.New(cfg, deps.DB, deps.Chunks, deps.NSQProducer, l, nil)
	if err != nil {
		return err
	}

	if cfg.EnableWorker {
		consumer, err := app.NewConsumer(cfg, application.Consumer)
		if err != nil {
			application.Close()
			return err
		}
		defer consumer.Stop()
		slog.Info("snapshot worker connected", "topic", config.TopicSnapshotProcess, "channel", config.ChannelSnapshotWorker)
	}

	if !cfg.EnableAPI {
		<-ctx.Done()
		application.Close()
		return nil
	}
	return application.Run(ctx)
}

func runReprocess(cmd *cobra.Command, args []string) error {
	newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := middleware.WithUser(cmd.Context(), "cli", "")

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	application, err := app.New(cfg, deps.DB, deps.Chunks, deps.NSQProducer, nil, nil)
	if err != nil {
		return err
	}
	defer application.Close()

	key := args[0]
	if !syncMode {
		if err := application.Snapshots.RequestReprocess(ctx, key, "cli"); err != nil {
			return err
		}
		return printJSON(map[string]string{"source_key": key, "status": "queued"})
	}

	snap, err := application.Snapshots.Process(ctx, key)
	if snap != nil {
		if perr := printJSON(snap); perr != nil {
			return perr
		}
	}
	return err
}

func runAsk(cmd *cobra.Command, args []string) error {
	newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := middleware.WithCorrelationID(cmd.Context(), "cli")

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	application, err := app.New(cfg, deps.DB, deps.Chunks, deps.NSQProducer, nil, nil)
	if err != nil {
		return err
	}
	defer application.Close()

	resp, err := application.Chat.Answer(ctx, chat.Request{
		UserID:   askUser,
		UserName: askName,
		Query:    strings.Join(args, " "),
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runImport(cmd *cobra.Command, args []string) error {
	newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := middleware.WithUser(cmd.Context(), "cli", "")

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := snapshot.ParseWorkbook(f)
	if err != nil {
		return err
	}

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	application, err := app.New(cfg, deps.DB, deps.Chunks, deps.NSQProducer, nil, nil)
	if err != nil {
		return err
	}
	defer application.Close()

	snap := &snapshot.Snapshot{
		EventName: importEvent,
		Year:      importYear,
		Entries:   entries,
		Notes:     importNotes,
		CreatedBy: "cli",
	}
	if err := application.Snapshots.Create(ctx, snap); err != nil {
		return err
	}
	return printJSON(snap)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
