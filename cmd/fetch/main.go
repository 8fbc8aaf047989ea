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
	"strings"
	"syscall"

	"github.com/GriffinCanCode/corsbroker/internal/caller"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/config"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/logging"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/prompter"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"go.uber.org/zap"
)

type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(v string) error {
	*h = append(*h, v)
	return nil
}

func main() {
	cfg := config.LoadOrDefault()

	var headers headerFlags
	flag.StringVar(&cfg.Caller.BrokerURL, "broker", cfg.Caller.BrokerURL, "Broker WebSocket URL")
	flag.StringVar(&cfg.Caller.Origin, "origin", cfg.Caller.Origin, "Origin to act for")
	flag.DurationVar(&cfg.Caller.ReplyTimeout, "timeout", cfg.Caller.ReplyTimeout, "Reply timeout")
	flag.DurationVar(&cfg.Caller.PromptTimeout, "prompt-timeout", cfg.Caller.PromptTimeout, "Consent prompt timeout (0 waits)")
	method := flag.String("X", http.MethodGet, "HTTP method")
	data := flag.String("d", "", "Request body")
	remote := flag.Bool("remote", false, "Open the consent prompt on the broker instead of the terminal")
	verbose := flag.Bool("v", false, "Print status and headers, log debug output")
	flag.Var(&headers, "H", "Request header 'Name: value' (repeatable)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: fetch [flags] URL")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := logging.NewNop()
	if *verbose {
		logger = logging.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg.Caller, logger, request{
		url:     flag.Arg(0),
		method:  *method,
		body:    *data,
		headers: headers,
		remote:  *remote,
		verbose: *verbose,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		if errors.Is(err, types.ErrNeedPermission) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

type request struct {
	url     string
	method  string
	body    string
	headers []string
	remote  bool
	verbose bool
}

func run(ctx context.Context, cfg config.CallerConfig, logger *logging.Logger, r request) error {
	opts := caller.Options{
		URL:           cfg.BrokerURL,
		Origin:        cfg.Origin,
		ReplyTimeout:  cfg.ReplyTimeout,
		PromptTimeout: cfg.PromptTimeout,
		Logger:        logger.Logger,
	}
	if cli := prompter.NewCLI(os.Stdin, os.Stderr, cfg.Origin); !r.remote && cli.IsInteractive() {
		opts.Confirmer = cli
	}

	client, err := caller.Dial(ctx, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	var body io.Reader
	if r.body != "" {
		body = strings.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return err
	}
	for _, h := range r.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("bad header %q", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	resp, err := client.RoundTrip(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if r.verbose {
		fmt.Fprintln(os.Stderr, resp.Status)
		for name, values := range resp.Header {
			fmt.Fprintf(os.Stderr, "%s: %s\n", name, strings.Join(values, ", "))
		}
		fmt.Fprintln(os.Stderr)
		logger.Debug("response received", zap.Int("status", resp.StatusCode), zap.Int64("length", resp.ContentLength))
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}
