// Command proton-inspect is an interactive shell for checking type
// descriptors, node reachability and running ad-hoc statements.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	proton "github.com/timeplus-io/proton-go"
	"github.com/timeplus-io/proton-go/pkg/config"
	"github.com/timeplus-io/proton-go/pkg/observe"
)

const prompt = "proton> "

func main() {
	var (
		cfgPath  = flag.String("config", "", "YAML config file")
		nodes    = flag.String("nodes", "", "comma-separated node URIs, overrides the config")
		timeout  = flag.Duration("timeout", 3*time.Second, "probe timeout")
		histPath = flag.String("history", defaultHistoryPath(), "history file path")
		histMax  = flag.Int("history-max", 2000, "max history lines loaded into memory")
		trace    = flag.Bool("trace", false, "print request spans to stderr")
		verbose  = flag.Bool("v", false, "debug logging")
		oneShot  = flag.String("c", "", "run one statement or meta command and exit")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, options{
		cfgPath:  *cfgPath,
		nodes:    *nodes,
		timeout:  *timeout,
		histPath: *histPath,
		histMax:  *histMax,
		trace:    *trace,
		oneShot:  *oneShot,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	cfgPath  string
	nodes    string
	timeout  time.Duration
	histPath string
	histMax  int
	trace    bool
	oneShot  string
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := config.Load(o.cfgPath)
	if err != nil {
		return err
	}
	if o.nodes != "" {
		cfg.Nodes = strings.Split(o.nodes, ",")
	}

	hook, shutdown, err := newHook(o.trace, logger)
	if err != nil {
		return err
	}
	defer shutdown()

	client, err := proton.New(*cfg, proton.WithLogger(logger), proton.WithHook(hook))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	h := NewHistory(o.histPath)
	if err := h.Load(o.histMax); err != nil {
		logger.Warn("load history", "path", o.histPath, "err", err)
	}
	in := &inspector{out: os.Stdout, client: client, history: h, timeout: o.timeout}

	if s := strings.TrimSpace(o.oneShot); s != "" {
		if isMetaCommand(s) {
			return in.meta(ctx, s)
		}
		return in.query(ctx, s)
	}
	return repl(ctx, in, cfg.Nodes)
}

// newHook always logs; with trace set it also exports spans to stderr.
func newHook(trace bool, logger *slog.Logger) (observe.DispatchHook, func(), error) {
	logHook := observe.NewLogHook(logger)
	if !trace {
		return logHook, func() {}, nil
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	otelHook, err := observe.NewOtelHook(observe.OtelConfig{
		TracerProvider:   tp,
		EnableTracing:    true,
		RecordExceptions: true,
	})
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, nil, err
	}
	return observe.Chain(otelHook, logHook), func() { _ = tp.Shutdown(context.Background()) }, nil
}

func repl(ctx context.Context, in *inspector, nodes []string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	for _, line := range in.history.Lines() {
		_ = rl.SaveHistory(line)
	}

	fmt.Printf("nodes: %s\n", strings.Join(nodes, ", "))
	fmt.Println(`type \help for help`)

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			// Ctrl+C clears the pending statement.
			if buf.Len() > 0 {
				buf.Reset()
				rl.SetPrompt(prompt)
			}
			continue
		}
		if err != nil {
			fmt.Println()
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if buf.Len() == 0 && isMetaCommand(line) {
			_ = in.history.Append(line)
			err := in.meta(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Printf("error: %v\n", err)
			}
			continue
		}

		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(line)
		if !statementComplete(buf.String()) {
			rl.SetPrompt("...> ")
			continue
		}

		stmt := strings.TrimSpace(buf.String())
		buf.Reset()
		rl.SetPrompt(prompt)
		_ = in.history.Append(stmt)
		_ = rl.SaveHistory(compactOneLine(stmt))

		if err := in.query(ctx, stmt); err != nil {
			fmt.Printf("error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
