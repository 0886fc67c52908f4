// Package ngrok exposes the local control API through an ngrok endpoint so a
// phone outside the LAN can drive the session.
package ngrok

import (
	"context"
	"fmt"

	"roomsync/internal/config"

	"github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok/v2"
)

// Service represents the ngrok tunnel service
type Service struct {
	config *config.NgrokConfig
	agent  ngrok.Agent
	tunnel ngrok.EndpointForwarder
	logger *logrus.Entry
}

// NewService creates a new ngrok service instance. A disabled config yields a
// nil service whose methods are no-ops.
func NewService(cfg *config.NgrokConfig, logger *logrus.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("ngrok auth token not found, set %s in .env or auth_token in config", config.EnvNgrokAuthToken)
	}

	agent, err := ngrok.NewAgent(ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		return nil, fmt.Errorf("failed to create ngrok agent: %w", err)
	}

	return &Service{
		config: cfg,
		agent:  agent,
		logger: logger.WithField("component", "ngrok"),
	}, nil
}

// trafficPolicy puts an OAuth gate in front of the endpoint
func trafficPolicy(provider string) string {
	return fmt.Sprintf(`
on_http_request:
  - actions:
      - type: oauth
        config:
          provider: %s
`, provider)
}

func (s *Service) endpointOptions() []ngrok.EndpointOption {
	var opts []ngrok.EndpointOption
	if s.config.Domain != "" {
		opts = append(opts, ngrok.WithURL(s.config.Domain))
	}
	if s.config.EnableAuth {
		opts = append(opts, ngrok.WithTrafficPolicy(trafficPolicy(s.config.AuthProvider)))
	}
	return opts
}

// StartTunnel forwards a public endpoint to the control API at localAddress
func (s *Service) StartTunnel(ctx context.Context, localAddress string) error {
	if s == nil {
		return nil
	}

	s.logger.Info("Starting ngrok tunnel")

	tunnel, err := s.agent.Forward(ctx, ngrok.WithUpstream(localAddress), s.endpointOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create ngrok tunnel: %w", err)
	}
	s.tunnel = tunnel

	fields := logrus.Fields{
		"public_url": tunnel.URL().String(),
		"upstream":   localAddress,
	}
	if s.config.EnableAuth {
		fields["oauth_provider"] = s.config.AuthProvider
	}
	s.logger.WithFields(fields).Info("Ngrok tunnel active")

	return nil
}

// GetPublicURL returns the public URL of the tunnel
func (s *Service) GetPublicURL() string {
	if s == nil || s.tunnel == nil {
		return ""
	}
	return s.tunnel.URL().String()
}

// Stop stops the ngrok tunnel
func (s *Service) Stop() error {
	if s == nil || s.tunnel == nil {
		return nil
	}

	s.logger.Info("Stopping ngrok tunnel")
	return s.tunnel.Close()
}
