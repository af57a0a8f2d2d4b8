package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xcmlite/internal/api"
	"xcmlite/internal/config"
	"xcmlite/internal/crypto"
	"xcmlite/internal/events"
	"xcmlite/internal/node"
	"xcmlite/internal/pprofutil"
	"xcmlite/internal/proto"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "run":
		return runServe(args[1:], stdout, stderr)
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "sign":
		return runSign(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: xcm-lite <run|keygen|sign> [args]")
	fmt.Fprintln(w, "  run    [--config config.yaml]")
	fmt.Fprintln(w, "  keygen --dir <dir> --para <id>")
	fmt.Fprintln(w, "  sign   --config config.yaml --in <envelope.json>")
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file (yaml)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config failed: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))
	if addr, err := pprofutil.StartFromEnv(); err != nil {
		fmt.Fprintf(stderr, "pprof start failed: %v\n", err)
		return 1
	} else if addr != "" {
		logger.Info("pprof enabled", "addr", addr)
	}

	n, err := node.New(cfg, node.Options{
		Sinks: []events.Sink{events.SlogSink(logger)},
	})
	if err != nil {
		fmt.Fprintf(stderr, "init node failed: %v\n", err)
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewServer(n, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("xcm-lite listening",
		"addr", cfg.Server.Addr(),
		"parachains", len(cfg.ParachainIDs()),
		"versions", fmt.Sprint(cfg.Parachains.Versions))
	fmt.Fprintf(stdout, "READY addr=%s parachains=%d\n", cfg.Server.Addr(), len(cfg.ParachainIDs()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		fmt.Fprintf(stderr, "serve failed: %v\n", err)
		return 1
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	n.Close()
	logger.Info("xcm-lite stopped")
	return 0
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", "", "output directory")
	para := fs.Uint("para", 0, "parachain id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *dir == "" || *para == 0 {
		fmt.Fprintln(stderr, "missing --dir or --para")
		return 1
	}

	ring, err := crypto.BuildKeyring([]uint32{uint32(*para)}, nil)
	if err != nil {
		fmt.Fprintf(stderr, "generate keypair failed: %v\n", err)
		return 1
	}
	kp, _ := ring.Get(uint32(*para))
	if err := crypto.SaveKeypair(*dir, kp); err != nil {
		fmt.Fprintf(stderr, "save keypair failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "para=%d pub=%s\n", *para, kp.PublicHex())
	return 0
}

// runSign signs a fixture envelope with the configured key of its sender
// parachain and prints the completed envelope.
func runSign(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file (yaml)")
	in := fs.String("in", "", "envelope json file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *in == "" {
		fmt.Fprintln(stderr, "missing --in")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config failed: %v\n", err)
		return 1
	}
	sources := make(map[uint32]crypto.KeySource, len(cfg.Parachains.Keys))
	for _, k := range cfg.Parachains.Keys {
		sources[k.ParaID] = crypto.KeySource{SecretHex: k.SecretKey, SeedPhrase: k.SeedPhrase}
	}
	ring, err := crypto.BuildKeyring(cfg.ParachainIDs(), sources)
	if err != nil {
		fmt.Fprintf(stderr, "build keyring failed: %v\n", err)
		return 1
	}

	raw, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(stderr, "read envelope failed: %v\n", err)
		return 1
	}
	var env proto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		fmt.Fprintf(stderr, "parse envelope failed: %v\n", err)
		return 1
	}

	sig, err := ring.Sign(env.SenderPara, proto.SigningBytes(env))
	if err != nil {
		fmt.Fprintf(stderr, "sign failed: %v\n", err)
		return 1
	}
	env.Signature = hex.EncodeToString(sig)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		fmt.Fprintf(stderr, "encode envelope failed: %v\n", err)
		return 1
	}
	return 0
}
