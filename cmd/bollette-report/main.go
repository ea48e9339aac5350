// Command bollette-report writes a statistics report and the statements of
// every bill overlapping the window to a directory, or a ledger snapshot
// with -backup.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"bollette/internal/backend"
	"bollette/internal/backup"
	"bollette/internal/cli"
	"bollette/internal/export"
	apphttp "bollette/internal/http"
	"bollette/internal/log"
	"bollette/internal/services"
)

type options struct {
	year, month int
	from, to    string
	format      string
	outDir      string
	statements  bool
	backup      bool
	workers     int
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentExport)
	cfg := cli.LoadAndValidateConfig(logger)

	var opts options
	flag.IntVar(&opts.year, "year", 0, "report year (default: current year)")
	flag.IntVar(&opts.month, "month", 0, "report month 1-12, requires -year")
	flag.StringVar(&opts.from, "from", "", "range start, YYYY-MM-DD")
	flag.StringVar(&opts.to, "to", "", "range end, YYYY-MM-DD (inclusive)")
	flag.StringVar(&opts.format, "format", string(export.FormatXLSX), "xlsx or pdf")
	flag.StringVar(&opts.outDir, "out", cfg.ReportDir, "output directory")
	flag.BoolVar(&opts.statements, "statements", true, "also write one statement per bill")
	flag.BoolVar(&opts.backup, "backup", false, "write a ledger snapshot instead of reports")
	flag.Parse()
	opts.workers = cfg.StatsWorkers

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	if backendCfg.Type == backend.MemoryBackend {
		logger.Warn("Reporting from the memory backend; the ledger is empty")
	}
	// Reports never publish sync messages.
	backendCfg.AMQPURL = ""

	ctx := context.Background()
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err)
		os.Exit(1)
	}
	defer res.Cleanup()

	written, err := run(ctx, res.Backend, cfg.Location(), time.Now(), opts)
	if err != nil {
		logger.Error("Report failed", "error", err)
		_ = res.Cleanup()
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Println(path)
	}
	logger.Info("Report complete", "files", len(written), "dir", opts.outDir)
}

// run writes the requested documents and returns their paths.
func run(ctx context.Context, be *backend.Backend, loc *time.Location, now time.Time, opts options) ([]string, error) {
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if opts.backup {
		path, err := writeBackup(ctx, be, opts.outDir)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return nil, err
	}
	win, err := apphttp.ParseWindow(windowQuery(opts), loc, now)
	if err != nil {
		return nil, err
	}

	data, err := be.Statistics.Statistics(ctx, win)
	if err != nil {
		return nil, fmt.Errorf("statistics %s: %w", win, err)
	}
	out, err := export.Statistics(format, win, data)
	if err != nil {
		return nil, err
	}
	summary := filepath.Join(opts.outDir, format.Filename("statistics-"+fileSafe(win.String())))
	if err := os.WriteFile(summary, out, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", summary, err)
	}
	written := []string{summary}
	if !opts.statements {
		return written, nil
	}

	bills, err := be.Bills.ListBills(ctx, services.BillFilter{From: win.From, To: win.To})
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}

	paths := make([]string, len(bills))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.workers, 1))
	for i, b := range bills {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := export.Bill(format, b)
			if err != nil {
				return err
			}
			path := filepath.Join(opts.outDir, format.Filename("bill-"+fileSafe(b.ID)))
			if err := os.WriteFile(path, out, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(written, paths...), nil
}

func writeBackup(ctx context.Context, be *backend.Backend, dir string) (string, error) {
	path := filepath.Join(dir, "bollette-"+time.Now().UTC().Format("20060102-150405")+".json")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create snapshot file: %w", err)
	}
	if _, err := backup.Export(ctx, be.Bills, f); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close snapshot file: %w", err)
	}
	return path, nil
}

// windowQuery maps the flags onto the query parameters ParseWindow reads.
func windowQuery(opts options) url.Values {
	q := url.Values{}
	if opts.year != 0 {
		q.Set("year", strconv.Itoa(opts.year))
	}
	if opts.month != 0 {
		q.Set("month", strconv.Itoa(opts.month))
	}
	if opts.from != "" {
		q.Set("from", opts.from)
	}
	if opts.to != "" {
		q.Set("to", opts.to)
	}
	return q
}

func fileSafe(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
