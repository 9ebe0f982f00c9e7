package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"bandlight/config"
	"bandlight/db"
	"bandlight/loop"
	"bandlight/metrics"
	"bandlight/pipeline"
	"bandlight/recording"
	"bandlight/types"
	"bandlight/utils"
)

var (
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
)

const (
	historySessions = 10
	historyReadings = 20
)

// loadConfig parses args for cmd and returns the positional arguments.
// A help request is reported as flag.ErrHelp.
func loadConfig(cmd string, args []string) (*config.Config, []string, error) {
	return config.Load(cmd, args, nil, os.Stderr)
}

func runCmd(ctx context.Context, args []string) error {
	cfg, rest, err := loadConfig("run", args)
	if err != nil {
		return helpIsNotAnError(err)
	}
	if len(rest) > 0 {
		return fmt.Errorf("unexpected arguments: %v", rest)
	}
	return startLoop(ctx, cfg)
}

func replayCmd(ctx context.Context, args []string) error {
	cfg, rest, err := loadConfig("replay", args)
	if err != nil {
		return helpIsNotAnError(err)
	}
	if len(rest) != 1 {
		return errors.New("usage: bandlight replay [flags] <file.edf>")
	}
	cfg.Board, cfg.BoardFile = config.BoardEDF, rest[0]
	return startLoop(ctx, cfg)
}

func recordCmd(ctx context.Context, args []string) error {
	cfg, rest, err := loadConfig("record", args)
	if err != nil {
		return helpIsNotAnError(err)
	}
	if len(rest) != 1 {
		return errors.New("usage: bandlight record [flags] <file.edf>")
	}
	cfg.RecordPath = rest[0]
	cfg.Actuator = config.ActuatorNone
	return startLoop(ctx, cfg)
}

func helpIsNotAnError(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

// startLoop wires the configured board, actuator and observers and runs the
// loop until ctx is cancelled or the source runs out.
func startLoop(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := utils.InitLogger(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Component("main")
	utils.Log.Info("starting %s session, actuator %s", cfg.Loop().Source, cfg.Actuator)
	if cfg.Actuator == config.ActuatorNone && cfg.RecordPath == "" {
		utils.Log.Warn("no actuator configured, decisions are not sent")
	}

	analyzer, err := pipeline.NewAnalyzer(cfg.Pipeline(), logger.Component("pipeline"))
	if err != nil {
		return err
	}
	board, err := cfg.NewBoard()
	if err != nil {
		return err
	}
	opener, err := cfg.NewActuator()
	if err != nil {
		return err
	}

	m := metrics.NewMetrics(nil)
	observers := []loop.Observer{
		loop.Status(utils.NewStatusPrinter(os.Stdout)),
		loop.Metrics(m),
	}
	if cfg.HistoryPath != "" {
		client, err := db.NewSQLiteClient(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer client.Close()
		observers = append(observers, loop.History(client))
	}
	if cfg.RecordPath != "" {
		sink := recording.NewSink(cfg.RecordPath, cfg.Recording(), logger.Component("recording"))
		defer func() {
			if err := sink.Close(); err != nil {
				log.Error().Err(err).Str("path", cfg.RecordPath).Msg("error closing recording")
			}
		}()
		observers = append(observers, loop.Record(sink))
	}

	l, err := loop.New(cfg.Loop(), board, opener, analyzer, logger.Component("loop"), observers...)
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go serveStatus(srvCtx, cfg.HTTPAddr, newRouter(l, m, logger.Component("http")), logger.Component("http"))
	}

	if err := l.Run(ctx); err != nil {
		utils.Log.Error("loop stopped: %v", err)
		return err
	}
	return nil
}

func historyCmd(out io.Writer, args []string) error {
	cfg, rest, err := loadConfig("history", args)
	if err != nil {
		return helpIsNotAnError(err)
	}
	if len(rest) > 1 {
		return errors.New("usage: bandlight history [flags] [session]")
	}
	if cfg.HistoryPath == "" {
		return errors.New("history is disabled, set history.path")
	}
	if _, err := os.Stat(cfg.HistoryPath); err != nil {
		return fmt.Errorf("no history at %s: %w", cfg.HistoryPath, err)
	}

	client, err := db.NewSQLiteClient(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer client.Close()

	if len(rest) == 1 {
		readings, err := client.SessionReadings(rest[0], historyReadings)
		if err != nil {
			return err
		}
		printReadings(out, rest[0], readings)
		return nil
	}
	sessions, err := client.RecentSessions(historySessions)
	if err != nil {
		return err
	}
	printSessions(out, sessions)
	return nil
}

func printSessions(out io.Writer, sessions []types.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions recorded.")
		return
	}
	fmt.Fprintln(out, "Recent sessions:")
	for _, s := range sessions {
		end := "running"
		if !s.EndedAt.IsZero() {
			end = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(out, "\t- %s  %s  %s, %d channels at %g Hz, %s > %g, %s\n",
			s.ID, s.StartedAt.Format(utils.TimestampFormat), s.Source,
			s.Channels, s.SamplingRate, s.Band, s.Threshold, end)
	}
}

func printReadings(out io.Writer, sessionID string, readings []types.Reading) {
	if len(readings) == 0 {
		fmt.Fprintf(out, "No readings for session %s.\n", sessionID)
		return
	}
	fmt.Fprintf(out, "Last %d readings of %s:\n", len(readings), sessionID)
	for _, r := range readings {
		line := fmt.Sprintf("\t%s %s", utils.FormatStatus(r), decisionName(r.Decision))
		if r.Decision != nil && *r.Decision == types.On {
			green.Fprintln(out, line)
			continue
		}
		fmt.Fprintln(out, line)
	}
}
