package vpn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var (
	ErrVPNNotConnected = errors.New("VPN not connected")
	ErrVPNConnectFail  = errors.New("failed to connect VPN")
)

type Config struct {
	Regions        []string
	AutoConnect    bool
	ConnectTimeout time.Duration
}

// Runner executes a CLI command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ExpressVPN drives the expressvpnctl CLI. Rotate walks Regions round-robin
// so each call moves the crawler to a different egress address.
type ExpressVPN struct {
	cfg          Config
	run          Runner
	pollInterval time.Duration

	mu   sync.Mutex
	next int
}

func NewExpressVPN(cfg Config) *ExpressVPN {
	if len(cfg.Regions) == 0 {
		cfg.Regions = []string{"smart"}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &ExpressVPN{cfg: cfg, run: execRunner, pollInterval: time.Second}
}

// SetRunner replaces the command runner, mostly for tests.
func (v *ExpressVPN) SetRunner(r Runner, pollInterval time.Duration) {
	v.run = r
	if pollInterval > 0 {
		v.pollInterval = pollInterval
	}
}

func (v *ExpressVPN) IsConnected(ctx context.Context) bool {
	status, err := v.GetStatus(ctx)
	if err != nil {
		return false
	}
	status = strings.ToLower(status)
	return strings.Contains(status, "connected") && !strings.Contains(status, "disconnected")
}

// Connect connects to region and waits until the client reports a connection.
func (v *ExpressVPN) Connect(ctx context.Context, region string) error {
	if region == "" {
		region = "smart"
	}
	if _, err := v.run(ctx, "expressvpnctl", "connect", region); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrVPNConnectFail, region, err)
	}
	return v.waitConnected(ctx, region)
}

func (v *ExpressVPN) waitConnected(ctx context.Context, region string) error {
	deadline := time.NewTimer(v.cfg.ConnectTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for {
		if v.IsConnected(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s: timed out after %s", ErrVPNConnectFail, region, v.cfg.ConnectTimeout)
		case <-ticker.C:
		}
	}
}

func (v *ExpressVPN) EnsureConnected(ctx context.Context) error {
	if v.IsConnected(ctx) {
		return nil
	}
	if !v.cfg.AutoConnect {
		return ErrVPNNotConnected
	}
	return v.Connect(ctx, v.nextRegion())
}

// Rotate reconnects through the next configured region.
func (v *ExpressVPN) Rotate(ctx context.Context) error {
	region := v.nextRegion()
	if err := v.Disconnect(ctx); err != nil {
		log.Printf("VPN disconnect before rotation failed: %v", err)
	}
	if err := v.Connect(ctx, region); err != nil {
		return err
	}
	log.Printf("VPN rotated to %s", region)
	return nil
}

func (v *ExpressVPN) nextRegion() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	region := v.cfg.Regions[v.next%len(v.cfg.Regions)]
	v.next++
	return region
}

func (v *ExpressVPN) Disconnect(ctx context.Context) error {
	_, err := v.run(ctx, "expressvpnctl", "disconnect")
	return err
}

func (v *ExpressVPN) GetStatus(ctx context.Context) (string, error) {
	out, err := v.run(ctx, "expressvpnctl", "status")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
