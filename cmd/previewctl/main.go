package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/delaneyj/changestream/metrics"
	"github.com/delaneyj/changestream/preview"
	"github.com/delaneyj/changestream/scenefile"
	"github.com/delaneyj/changestream/watcher"
	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const (
	verbosityKey = "verbosity"
	metricsKey   = "metrics"
	intervalKey  = "interval"
)

var (
	stepHeader = color.New(color.FgCyan, color.Bold)
	unchanged  = color.New(color.FgHiBlack)
	failure    = color.New(color.FgRed)
)

func main() {
	cmd := &cli.Command{
		Name:  "previewctl",
		Usage: "Replay scene files through the render preview pipeline",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  verbosityKey,
				Usage: "Log verbosity, overrides the scene file's engine section",
				Value: -1,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "resolve",
				Usage:     "Resolve active stages after construction and after every step",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  metricsKey,
						Usage: "Print engine counters when done",
					},
				},
				Action: resolve,
			},
			{
				Name:      "watch",
				Usage:     "Re-resolve whenever the scene file changes on disk",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  intervalKey,
						Usage: "How often pending property polls are flushed",
						Value: 250 * time.Millisecond,
					},
				},
				Action: watch,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadFile(cmd *cli.Command) (*scenefile.File, logr.Logger, error) {
	path := cmd.Args().First()
	if path == "" {
		return nil, logr.Discard(), fmt.Errorf("missing scene file argument")
	}
	f, err := scenefile.Load(path)
	if err != nil {
		return nil, logr.Discard(), err
	}

	verbosity := f.Engine.Verbosity
	if v := cmd.Int(verbosityKey); v >= 0 {
		verbosity = int(v)
	}
	stdr.SetVerbosity(verbosity)
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName(filepath.Base(path))
	return f, logger, nil
}

func resolve(ctx context.Context, cmd *cli.Command) error {
	f, logger, err := loadFile(cmd)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New()
	m.MustRegister(registry)

	s, err := scenefile.Open(f,
		[]watcher.Option{watcher.WithLogger(logger), watcher.WithMetrics(m)},
		preview.WithLogger(logger), preview.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer s.Close()

	start := time.Now()
	stepHeader.Println("initial")
	stages, _ := s.Resolve()
	printStages(s, stages)

	for i, step := range f.Steps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stepHeader.Printf("step %d: %s\n", i+1, step)
		if err := s.Step(i); err != nil {
			failure.Printf("  %v\n", err)
			continue
		}
		stages, changed := s.Resolve()
		if !changed {
			unchanged.Println("  unchanged")
			continue
		}
		printStages(s, stages)
	}
	logger.V(1).Info("replay finished", "steps", len(f.Steps), "took", time.Since(start))

	if cmd.Bool(metricsKey) {
		return printMetrics(registry)
	}
	return nil
}

func watch(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	f, logger, err := loadFile(cmd)
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fsw.Close()
	// Editors replace files on save, so watch the directory.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	reload := make(chan struct{}, 1)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-fsw.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				select {
				case reload <- struct{}{}:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return nil
				}
				logger.Error(err, "file watcher")
			}
		}
	})

	// The owner goroutine: every engine call below happens here.
	g.Go(func() error {
		repaint := make(chan struct{}, 1)
		open := func(f *scenefile.File) (*scenefile.Session, error) {
			return scenefile.Open(f, []watcher.Option{
				watcher.WithLogger(logger),
				watcher.WithRepaint(func() {
					select {
					case repaint <- struct{}{}:
					default:
					}
				}),
			}, preview.WithLogger(logger))
		}

		s, err := open(f)
		if err != nil {
			return err
		}
		defer func() { s.Close() }()

		show := func(force bool) {
			stages, changed := s.Resolve()
			if changed || force {
				stepHeader.Printf("%s %s\n", time.Now().Format(time.TimeOnly), path)
				printStages(s, stages)
			}
		}
		show(true)

		ticker := time.NewTicker(cmd.Duration(intervalKey))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-reload:
				next, err := scenefile.Load(path)
				if err != nil {
					failure.Printf("reload: %v\n", err)
					continue
				}
				ns, err := open(next)
				if err != nil {
					failure.Printf("reload: %v\n", err)
					continue
				}
				s.Close()
				s = ns
				logger.Info("reloaded", "filters", len(next.Filters))
				show(true)
			case <-repaint:
				show(false)
			case <-ticker.C:
				show(false)
			}
		}
	})

	return g.Wait()
}

func printStages(s *scenefile.Session, stages []preview.Stage) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"stage", "filter", "strict", "group", "renderers"})
	for i, st := range stages {
		for j, g := range st.Groups {
			names := make([]string, len(g.Renderers))
			for k, r := range g.Renderers {
				names[k] = s.Name(r)
			}
			tbl.AppendRow(table.Row{i, st.Filter.Name(), st.Filter.StrictRenderGroup(), j, strings.Join(names, "\n")})
		}
	}
	if len(stages) == 0 {
		tbl.AppendRow(table.Row{"-", "no active stages", "", "", ""})
	}
	tbl.Render()
}

func printMetrics(registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	tbl := table.NewWriter()
	tbl.SetTitle("Engine counters")
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"metric", "labels", "value"})
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, l := range metric.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			var value any
			switch {
			case metric.GetCounter() != nil:
				value = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				value = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				h := metric.GetHistogram()
				value = fmt.Sprintf("n=%d sum=%.6fs", h.GetSampleCount(), h.GetSampleSum())
			default:
				continue
			}
			tbl.AppendRow(table.Row{mf.GetName(), strings.Join(labels, ","), value})
		}
	}
	tbl.Render()
	return nil
}
