// Package app wires the credential stores, trust aggregation and the
// authenticated connector into one Subsystem shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/trustkit/internal/adapter/driven/anchors"
	"github.com/ericfisherdev/trustkit/internal/adapter/driven/device"
	"github.com/ericfisherdev/trustkit/internal/adapter/driven/keystore"
	sqliteadapter "github.com/ericfisherdev/trustkit/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/trustkit/internal/application"
	"github.com/ericfisherdev/trustkit/internal/config"
	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// Subsystem is the opened trust and credential subsystem.
type Subsystem struct {
	Secrets      *sqliteadapter.SecretRepo
	Certificates *sqliteadapter.CertificateRepo
	Trust        *application.TrustAggregator
	Connector    *application.AuthConnector

	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// Open opens both stores, loads the bundled anchors, builds the initial
// TrustManager and registers the aggregator as the stores' trust listener.
// prompter may be nil for non-interactive processes.
func Open(ctx context.Context, cfg *config.Config, prompter driven.CredentialPrompter, logger *slog.Logger) (*Subsystem, error) {
	if logger == nil {
		logger = slog.Default()
	}

	deviceID, err := deviceIDProvider(cfg).DeviceID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve device id: %w", err)
	}

	tokens := sqliteadapter.NewTokenStore(cfg.TokenDir)

	secrets, err := sqliteadapter.OpenSecretRepo(ctx, cfg.CredentialsPath(), tokens, deviceID, logger)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	logger.Info("credential store opened", "path", cfg.CredentialsPath())

	certs, err := sqliteadapter.OpenCertificateRepo(ctx, cfg.CertificatesPath(), tokens, deviceID, logger)
	if err != nil {
		_ = secrets.Close()
		return nil, fmt.Errorf("open certificate store: %w", err)
	}
	logger.Info("certificate store opened", "path", cfg.CertificatesPath())

	bundled, err := anchorSource(cfg).Anchors()
	if err != nil {
		_ = secrets.Close()
		_ = certs.Close()
		return nil, fmt.Errorf("load bundled anchors: %w", err)
	}

	policy := application.NewConfiguredTrustPolicy(cfg.TrustSystemFallback, cfg.AcceptUnanchored, logger)
	trust := application.NewTrustAggregator(certs, secrets, keystore.PKCS12{}, policy, bundled, logger)
	secrets.SetTrustListener(trust)
	certs.SetTrustListener(trust)

	if err := trust.Refresh(ctx); err != nil {
		_ = secrets.Close()
		_ = certs.Close()
		return nil, fmt.Errorf("build trust manager: %w", err)
	}

	connector := application.NewAuthConnector(secrets, trust, prompter, application.ConnectOptions{
		LoginAttempts:  cfg.LoginAttempts,
		BadAccessCodes: cfg.BadAccessCodes,
		Timeout:        cfg.ConnectTimeout,
	}, logger)

	return &Subsystem{
		Secrets:      secrets,
		Certificates: certs,
		Trust:        trust,
		Connector:    connector,
		logger:       logger,
	}, nil
}

// Close disposes both stores. Later calls return the first result.
func (s *Subsystem) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.Secrets.Close(), s.Certificates.Close())
		if s.closeErr != nil {
			s.logger.Error("error closing stores", "error", s.closeErr)
		}
	})
	return s.closeErr
}

func anchorSource(cfg *config.Config) driven.AnchorSource {
	return anchors.Dir(cfg.BundledAnchorsDir)
}

func deviceIDProvider(cfg *config.Config) driven.DeviceIDProvider {
	if cfg.DeviceID != "" {
		return device.Static(cfg.DeviceID)
	}
	return device.MachineID{}
}
