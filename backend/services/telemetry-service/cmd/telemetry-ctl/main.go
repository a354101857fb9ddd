// telemetry-ctl is the operator tool for the telemetry log. It works on the log file
// directly and can run next to a live telemetry-service.
//
//	telemetry-ctl [--config FILE] <command> [flags]
//
// Commands: init, tail, range, faults, stats, backup, backups, export, push.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"gridwatch/backend/libs/logging"
	"gridwatch/backend/services/telemetry-service/internal/client"
	"gridwatch/backend/services/telemetry-service/internal/config"
	"gridwatch/backend/services/telemetry-service/internal/repository"
	"gridwatch/backend/services/telemetry-service/internal/service"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type tool struct {
	store   *repository.LogStore
	views   *service.AggregationService
	backups *service.BackupService
	out     io.Writer
}

func run(args []string, out io.Writer) error {
	var configPath string
	global := pflag.NewFlagSet("telemetry-ctl", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	global.BoolP("help", "h", false, "show help")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(out, global)
			return nil
		}
		return err
	}
	if help, _ := global.GetBool("help"); help || global.NArg() == 0 {
		printHelp(out, global)
		return nil
	}

	cfg, err := config.LoadFile(configPath, false)
	if err != nil {
		return err
	}
	logger, err := logging.NewCLILogger("telemetry-ctl")
	if err != nil {
		return err
	}
	defer logger.Sync()

	command, rest := global.Arg(0), global.Args()[1:]
	// push talks to a running service and never opens the log itself.
	if command == "push" {
		return push(rest, cfg, out)
	}

	store, err := repository.NewLogStore(repository.Options{
		Path:             cfg.Store.Path,
		Sheet:            cfg.Store.Sheet,
		LockTimeout:      cfg.Store.LockTimeout,
		LockPollInterval: cfg.Store.LockPollInterval,
	}, logger.Named("store"))
	if err != nil {
		return err
	}
	t := &tool{
		store:   store,
		views:   service.NewAggregationService(store),
		backups: service.NewBackupService(store, cfg.Store.BackupDir, logger.Named("backup")),
		out:     out,
	}

	switch command {
	case "init":
		return t.printJSON(map[string]string{"path": store.Path()})
	case "tail":
		return t.tail(rest, cfg.Query.RecentDefault)
	case "range":
		return t.rangeCmd(rest)
	case "faults":
		return t.faults(rest, cfg.Query.FaultLimitDefault)
	case "stats":
		return t.stats(rest)
	case "backup":
		path, err := t.backups.CreateBackup()
		if err != nil {
			return err
		}
		return t.printJSON(map[string]string{"backupPath": path})
	case "backups":
		paths, err := t.backups.ListBackups()
		if err != nil {
			return err
		}
		return t.printJSON(paths)
	case "export":
		return t.export(rest, logger)
	default:
		printHelp(out, global)
		return fmt.Errorf("unknown command %q", command)
	}
}

func push(args []string, cfg *config.Config, out io.Writer) error {
	addr := cfg.HTTPAddress()
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	flags := pflag.NewFlagSet("push", pflag.ContinueOnError)
	baseURL := flags.String("url", "http://"+addr, "telemetry-service base URL")
	file := flags.StringP("file", "f", "-", "JSON sample or stream of samples (- for stdin)")
	timeout := flags.Duration("timeout", 10*time.Second, "per-request timeout")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	c := client.NewIngestClient(*baseURL, client.NewDefaultHTTPClient(*timeout))
	dec := json.NewDecoder(in)
	enc := json.NewEncoder(out)
	for {
		var input service.IngestInput
		if err := dec.Decode(&input); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode sample: %w", err)
		}
		resp, err := c.Push(context.Background(), input)
		if err != nil {
			return err
		}
		if err := enc.Encode(map[string]interface{}{"rowIndex": resp.RowIndex, "timestamp": resp.Timestamp}); err != nil {
			return err
		}
	}
}

func (t *tool) tail(args []string, def int) error {
	flags := pflag.NewFlagSet("tail", pflag.ContinueOnError)
	count := flags.IntP("count", "n", def, "number of records")
	if err := flags.Parse(args); err != nil {
		return err
	}
	return t.printJSON(t.views.RecentWindow(*count))
}

func (t *tool) rangeCmd(args []string) error {
	flags := pflag.NewFlagSet("range", pflag.ContinueOnError)
	start := flags.String("start", "", "inclusive start (RFC 3339 or YYYY-MM-DD)")
	end := flags.String("end", "", "inclusive end (RFC 3339 or YYYY-MM-DD, default now)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	now := time.Now()
	from, err := service.ParseRangeBound(*start, false, now)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	to, err := service.ParseRangeBound(*end, true, now)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}
	if to.Before(from) {
		return errors.New("--end is before --start")
	}
	return t.printJSON(t.views.Range(from, to))
}

func (t *tool) faults(args []string, def int) error {
	flags := pflag.NewFlagSet("faults", pflag.ContinueOnError)
	limit := flags.IntP("limit", "l", def, "maximum number of fault events")
	if err := flags.Parse(args); err != nil {
		return err
	}
	return t.printJSON(t.views.FaultEvents(*limit))
}

func (t *tool) stats(args []string) error {
	flags := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	window := flags.Duration("window", service.DefaultStatsWindow, "trailing window")
	if err := flags.Parse(args); err != nil {
		return err
	}
	stats, err := t.views.Statistics(*window)
	if errors.Is(err, service.ErrNoData) {
		return t.printJSON(map[string]interface{}{"message": "no data in window", "stats": nil})
	}
	if err != nil {
		return err
	}
	return t.printJSON(stats)
}

func (t *tool) export(args []string, logger *zap.Logger) error {
	flags := pflag.NewFlagSet("export", pflag.ContinueOnError)
	target := flags.StringP("out", "o", "", "destination file (default stdout)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *target == "" {
		_, err := t.store.Export(t.out)
		return err
	}
	f, err := os.Create(*target)
	if err != nil {
		return err
	}
	n, err := t.store.Export(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	logger.Info("telemetry log exported", zap.String("path", *target), zap.Int64("bytes", n))
	return nil
}

func (t *tool) printJSON(v interface{}) error {
	enc := json.NewEncoder(t.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHelp(out io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintln(out, "Usage: telemetry-ctl [--config FILE] <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  init                     create the log file if missing")
	fmt.Fprintln(out, "  tail [-n N]              most recent records")
	fmt.Fprintln(out, "  range --start T [--end T] records captured in [start, end]")
	fmt.Fprintln(out, "  faults [-l N]            most recent fault events first")
	fmt.Fprintln(out, "  stats [--window D]       per-phase statistics")
	fmt.Fprintln(out, "  backup                   copy the log into the backup directory")
	fmt.Fprintln(out, "  backups                  list existing backups")
	fmt.Fprintln(out, "  export [-o FILE]         write the raw workbook")
	fmt.Fprintln(out, "  push [--url U] [-f FILE] post JSON samples to a running service")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Flags:")
	fmt.Fprint(out, flags.FlagUsages())
}
