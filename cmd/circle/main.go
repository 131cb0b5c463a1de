package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/social-orbit/circle"
	"github.com/signalsfoundry/social-orbit/core"
	"github.com/signalsfoundry/social-orbit/internal/config"
	"github.com/signalsfoundry/social-orbit/internal/logging"
	"github.com/signalsfoundry/social-orbit/internal/observability"
	"github.com/signalsfoundry/social-orbit/timectrl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "circle: %v\n", err)
		os.Exit(2)
	}
	if err := run(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "circle: %v\n", err)
		os.Exit(1)
	}
}

// run builds a circle from flags or a scenario file, replays it and prints
// the resulting tracks to stdout. Logs and trace output go to stderr.
func run(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("circle", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var steps []circle.Step
	scenarioPath := fs.String("scenario", "", "Path to a JSON scenario; overrides -center and step flags")
	center := fs.String("center", "Alice", "Name of the center user")
	fs.Var(&stepFlag{steps: &steps, op: circle.OpRelate}, "relation", "Relation to add as source,target[,weight]; repeatable")
	fs.Var(&stepFlag{steps: &steps, op: circle.OpUnrelate}, "unrelate", "Relation to remove as source,target; repeatable")
	seed := fs.Uint64("seed", cfg.Seed, "Seed for default angles; 0 picks a time-based seed")
	tick := fs.Duration("tick", 0, "Wall-clock pause between replayed steps; 0 replays as fast as possible")
	metricsDump := fs.Bool("metrics", cfg.MetricsDump, "Print orbit metrics after the replay")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus /metrics on this address until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logCfg := cfg.Logging()
	logCfg.Output = stderr
	log := logging.New(logCfg)
	ctx = logging.ContextWithLogger(ctx, log)

	tracingCfg := cfg.TracingSettings()
	tracingCfg.Writer = stderr
	shutdown, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	scenario, err := loadScenario(*scenarioPath, *center, steps)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := observability.NewOrbitCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	var orbitOpts []core.Option
	if *seed != 0 {
		orbitOpts = append(orbitOpts, core.WithSeed(*seed))
	}
	c := circle.New(log, circle.WithMetrics(collector), circle.WithOrbitOptions(orbitOpts...))

	if err := replay(ctx, c, scenario, *tick); err != nil {
		return err
	}

	writeReport(stdout, c)
	if *metricsDump {
		fmt.Fprintln(stdout)
		if err := collector.WriteText(stdout); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if *metricsAddr != "" {
		return serveMetrics(ctx, *metricsAddr, collector, log)
	}
	return nil
}

// loadScenario reads path when set, otherwise assembles a scenario from the
// command-line steps. Without any steps a small demo circle is used.
func loadScenario(path, center string, steps []circle.Step) (*circle.Scenario, error) {
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open scenario %q: %w", path, err)
		}
		defer f.Close()
		return circle.LoadScenario(f)
	}

	if len(steps) == 0 {
		steps = []circle.Step{
			{Op: circle.OpRelate, From: center, To: "Bob", Weight: 1},
			{Op: circle.OpRelate, From: "Bob", To: "Carol", Weight: 0.5},
		}
	}
	s := &circle.Scenario{
		Center: circle.PersonSpec{Name: center, Age: 20, Sex: "M"},
		Steps:  steps,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// replay sets the center and applies one step per tick.
func replay(ctx context.Context, c *circle.Circle, s *circle.Scenario, tick time.Duration) error {
	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = logging.Noop()
	}
	if _, err := c.AddCenter(ctx, s.Center.Person()); err != nil {
		return err
	}

	mode := timectrl.Accelerated
	if tick > 0 {
		mode = timectrl.RealTime
	}
	tc := timectrl.NewTimeController(time.Now().UTC(), tick, mode)
	tc.AddListener(func(i int, now time.Time) error {
		st := s.Steps[i-1]
		if err := c.ApplyStep(ctx, st); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, st.Op, err)
		}
		log.Debug(ctx, "replayed step",
			logging.Int("step", i),
			logging.String("op", st.Op),
			logging.String("replay_time", now.Format(time.RFC3339Nano)))
		return nil
	})
	return tc.Run(ctx, len(s.Steps))
}

func writeReport(w io.Writer, c *circle.Circle) {
	center, ok := c.Center()
	if !ok {
		fmt.Fprintln(w, "center: (none)")
		return
	}
	fmt.Fprintf(w, "center: %s\n", center.Name())
	for _, level := range c.Levels() {
		names := c.PeopleAtLevel(level)
		if len(names) == 0 {
			continue
		}
		parts := make([]string, 0, len(names))
		for _, name := range names {
			pos, err := c.Position(name)
			if err != nil {
				continue
			}
			d, _ := c.Diffusion(name)
			parts = append(parts, fmt.Sprintf("%s(angle=%g diffusion=%g)", name, pos.Angle, d))
		}
		fmt.Fprintf(w, "level %d: %s\n", level, strings.Join(parts, " "))
	}
	fmt.Fprintf(w, "people: %d\n", c.Len())
}

func serveMetrics(ctx context.Context, addr string, collector *observability.OrbitCollector, log logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// stepFlag appends one scenario step per occurrence, keeping command-line
// order across -relation and -unrelate.
type stepFlag struct {
	steps *[]circle.Step
	op    string
}

func (f *stepFlag) String() string { return "" }

func (f *stepFlag) Set(v string) error {
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	st := circle.Step{Op: f.op}
	switch {
	case f.op == circle.OpRelate && (len(parts) == 2 || len(parts) == 3):
		st.From, st.To, st.Weight = parts[0], parts[1], 1
		if len(parts) == 3 {
			w, err := strconv.ParseFloat(parts[2], 64)
			if err != nil {
				return fmt.Errorf("invalid weight %q: %w", parts[2], err)
			}
			st.Weight = w
		}
	case f.op == circle.OpUnrelate && len(parts) == 2:
		st.From, st.To = parts[0], parts[1]
	default:
		return fmt.Errorf("malformed %s %q", f.op, v)
	}
	if st.From == "" || st.To == "" {
		return fmt.Errorf("malformed %s %q", f.op, v)
	}
	*f.steps = append(*f.steps, st)
	return nil
}
