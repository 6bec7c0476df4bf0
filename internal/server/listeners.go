// ABOUTME: Listener setup for plain TCP or a Tailscale tsnet node
// ABOUTME: With Funnel enabled the node's DNS name becomes the public webhook URL

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

// setupListeners creates listeners based on configuration (Tailscale or TCP).
// A nil gRPC listener means gRPC is disabled.
func (s *Server) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.GRPCAddr != "" || s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled")
		}
		return s.setupTailscaleListeners(ctx)
	}
	return s.setupTCPListeners()
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (s *Server) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	s.logger.Info("starting scanbot",
		"http_addr", s.config.Server.HTTPAddr,
		"grpc_addr", s.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if s.config.Server.GRPCAddr == "" {
		return nil, httpLn, nil
	}

	grpcLn, err = net.Listen("tcp", s.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "scanbot", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

// setupTailscaleListeners brings up a tsnet node and listens on it.
func (s *Server) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
		Logf:      func(string, ...any) {},
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = s.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	if tsCfg.Funnel {
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		httpLn, err = s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = grpcLn.Close()
			return nil, nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		s.adoptFunnelURL(status)
		return grpcLn, httpLn, nil
	}

	httpLn, err = s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// adoptFunnelURL uses the node's Funnel URL as the public URL unless one was configured.
func (s *Server) adoptFunnelURL(status *ipnstate.Status) {
	if status.Self == nil || status.Self.DNSName == "" {
		return
	}
	funnelURL := "https://" + strings.TrimSuffix(status.Self.DNSName, ".")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publicURL == "" {
		s.logger.Info("using tailscale funnel as public URL", "url", funnelURL)
		s.publicURL = funnelURL
	}
}
