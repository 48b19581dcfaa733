package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/isogate/internal/common"
	"example.com/isogate/internal/iso8583"
	"example.com/isogate/internal/report"
	"example.com/isogate/internal/server"
	"example.com/isogate/internal/tokenize"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config httpPort)")
	tcpAddr := flag.String("tcp-addr", "", "TCP listen address (overrides config tcpPort)")
	readTimeout := flag.Duration("read-timeout", 60*time.Second, "HTTP read timeout")
	writeTimeout := flag.Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		log.Fatalf("storage dir: %v", err)
	}
	rotator, err := setupLogging(cfg)
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	defer rotator.Close()

	opts, err := buildOptions(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		log.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	if *addr != "" {
		httpAddr = *addr
	}
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	listenTCP := *tcpAddr
	if listenTCP == "" && *cfg.TCPPort > 0 {
		listenTCP = fmt.Sprintf(":%d", *cfg.TCPPort)
	}
	if listenTCP != "" {
		ln, err := net.Listen("tcp", listenTCP)
		if err != nil {
			log.Fatalf("tcp listen: %v", err)
		}
		tcp := &server.TCPListener{
			Processor:       srv.Processor(),
			MaxMessageBytes: cfg.MaxMessageBytes,
			ReadTimeout:     cfg.ReadTimeout,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tcp.Serve(ctx, ln); err != nil {
				log.Printf("tcp: %v", err)
				stop()
			}
		}()
	}

	log.Printf("isod listening on %s (catalog %s, trailing %s)", httpAddr,
		opts.Decoder.Catalog().Name(), cfg.Trailing)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	wg.Wait()
	snap := opts.Metrics.Snapshot()
	log.Printf("isod stopped: %d messages, %d decoded, %d failed", snap.Messages, snap.Decoded, snap.Failed)
}

func buildOptions(cfg config) (server.Options, error) {
	catalog, err := iso8583.OpenCatalog(cfg.Catalog)
	if err != nil {
		return server.Options{}, fmt.Errorf("catalog: %w", err)
	}
	trailing, err := iso8583.ParseTrailingPolicy(cfg.Trailing)
	if err != nil {
		return server.Options{}, err
	}
	lang, err := report.ParseLanguage(cfg.Lang)
	if err != nil {
		return server.Options{}, err
	}
	tokens, err := tokenize.NewService(cfg.Tokenization.Passphrase, cfg.Tokenization.Salt)
	if err != nil {
		return server.Options{}, fmt.Errorf("tokenization: %w", err)
	}
	metrics := common.NewMetrics()
	metrics.Start()
	opts := server.Options{
		StorageDir:      cfg.StorageDir,
		Decoder:         iso8583.NewDecoder(iso8583.WithCatalog(catalog), iso8583.WithTrailingPolicy(trailing)),
		Tokens:          tokens,
		Metrics:         metrics,
		MaxMessageBytes: cfg.MaxMessageBytes,
		ReadTimeout:     cfg.ReadTimeout,
		Lang:            lang,
	}
	if cfg.Audit.Enabled {
		opts.Audit = common.NewAuditLog(cfg.Audit.Path)
	}
	return opts, nil
}
