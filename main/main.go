// Command mailroom runs the protocol core of the webmail backend: the
// receiving SMTP server and the IMAP server, sharing one session
// registry and one set of collaborator stores.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailroomlabs/mailroom/config"
	"github.com/mailroomlabs/mailroom/delivery"
	"github.com/mailroomlabs/mailroom/dns"
	"github.com/mailroomlabs/mailroom/imap"
	"github.com/mailroomlabs/mailroom/metrics"
	"github.com/mailroomlabs/mailroom/session"
	"github.com/mailroomlabs/mailroom/smtp"
	"github.com/mailroomlabs/mailroom/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	mem := store.NewMemory()
	if cfg.DevelopmentMode {
		for _, address := range []string{"dev_user@localhost", "dev@example.com"} {
			id := mem.AddUser(address)
			logger.Info("dev account ready",
				slog.String("address", address),
				slog.String("user_id", string(id)),
			)
		}
	}

	registry := session.NewRegistry()
	pipeline := delivery.New(mem, mem, mem, logger)

	smtpTLS, err := listenerTLS(cfg.SMTP)
	if err != nil {
		return err
	}
	smtpServer, err := smtp.NewServer(smtp.ServerConfig{
		Hostname:  cfg.Hostname,
		Addr:      cfg.SMTP.Addr(),
		TLSConfig: smtpTLS,
		Logger:    logger,
		Registry:  registry,
		Pipeline:  pipeline,
		Resolver:  dns.NewResolver(),
	})
	if err != nil {
		return err
	}

	imapTLS, err := listenerTLS(cfg.IMAP)
	if err != nil {
		return err
	}
	imapServer, err := imap.NewServer(imap.ServerConfig{
		Hostname:        cfg.Hostname,
		Addr:            cfg.IMAP.Addr(),
		TLSConfig:       imapTLS,
		DevelopmentMode: cfg.DevelopmentMode,
		Logger:          logger,
		Registry:        registry,
		Store:           mem,
	})
	if err != nil {
		return err
	}

	go metrics.Serve(cfg.MetricsAddr, logger)

	errCh := make(chan error, 2)
	go func() { errCh <- serve(smtpServer.ListenAndServe, smtpServer.ListenAndServeTLS, cfg.SMTP.TLS) }()
	go func() { errCh <- serve(imapServer.ListenAndServe, imapServer.ListenAndServeTLS, cfg.IMAP.TLS) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, smtp.ErrServerClosed) && !errors.Is(err, imap.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := smtpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("smtp shutdown incomplete", slog.Any("error", err))
	}
	if err := imapServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("imap shutdown incomplete", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

// listenerTLS loads the certificate pair for a TLS-enabled listener.
func listenerTLS(l config.ListenerConfig) (*tls.Config, error) {
	if !l.TLS {
		return nil, nil
	}
	if l.CertFile == "" || l.KeyFile == "" {
		return nil, fmt.Errorf("tls listener requires cert_file and key_file")
	}
	cert, err := tls.LoadX509KeyPair(l.CertFile, l.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load tls key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func serve(plain, withTLS func() error, useTLS bool) error {
	if useTLS {
		return withTLS()
	}
	return plain()
}
