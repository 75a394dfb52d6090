package vpn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCLI simulates expressvpnctl: connect flips the status after a number
// of polls, disconnect drops it.
type fakeCLI struct {
	mu          sync.Mutex
	connected   bool
	failConnect bool
	calls       []string
}

func (f *fakeCLI) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(append([]string{name}, args...), " "))

	switch args[0] {
	case "status":
		if f.connected {
			return []byte("Connected to France - Paris\n"), nil
		}
		return []byte("Disconnected\n"), nil
	case "connect":
		if f.failConnect {
			return nil, errors.New("exit status 1")
		}
		f.connected = true
	case "disconnect":
		f.connected = false
	}
	return nil, nil
}

func (f *fakeCLI) commands(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func newTestVPN(cfg Config, cli *fakeCLI) *ExpressVPN {
	v := NewExpressVPN(cfg)
	v.SetRunner(cli.run, time.Millisecond)
	return v
}

func TestIsConnectedParsesStatus(t *testing.T) {
	cli := &fakeCLI{}
	v := newTestVPN(Config{}, cli)

	assert.False(t, v.IsConnected(context.Background()), "Disconnected must not count as connected")
	cli.connected = true
	assert.True(t, v.IsConnected(context.Background()))
}

func TestEnsureConnectedWithoutAutoConnect(t *testing.T) {
	v := newTestVPN(Config{}, &fakeCLI{})
	err := v.EnsureConnected(context.Background())
	assert.ErrorIs(t, err, ErrVPNNotConnected)
}

func TestEnsureConnectedConnectsFirstRegion(t *testing.T) {
	cli := &fakeCLI{}
	v := newTestVPN(Config{Regions: []string{"france", "germany"}, AutoConnect: true}, cli)

	require.NoError(t, v.EnsureConnected(context.Background()))
	assert.Equal(t, []string{"expressvpnctl connect france"}, cli.commands("expressvpnctl connect"))

	// Already connected: nothing else runs.
	require.NoError(t, v.EnsureConnected(context.Background()))
	assert.Len(t, cli.commands("expressvpnctl connect"), 1)
}

func TestRotateRoundRobin(t *testing.T) {
	cli := &fakeCLI{connected: true}
	v := newTestVPN(Config{Regions: []string{"france", "germany", "netherlands"}}, cli)

	for i := 0; i < 4; i++ {
		require.NoError(t, v.Rotate(context.Background()))
	}

	assert.Equal(t, []string{
		"expressvpnctl connect france",
		"expressvpnctl connect germany",
		"expressvpnctl connect netherlands",
		"expressvpnctl connect france",
	}, cli.commands("expressvpnctl connect"))
	assert.Len(t, cli.commands("expressvpnctl disconnect"), 4)
}

func TestConnectFailure(t *testing.T) {
	cli := &fakeCLI{failConnect: true}
	v := newTestVPN(Config{}, cli)

	err := v.Rotate(context.Background())
	assert.ErrorIs(t, err, ErrVPNConnectFail)
	assert.Contains(t, err.Error(), "smart")
}

func TestConnectTimesOut(t *testing.T) {
	// connect "succeeds" but status never reports a connection.
	stuck := func(_ context.Context, name string, args ...string) ([]byte, error) {
		if args[0] == "status" {
			return []byte("Connecting..."), nil
		}
		return nil, nil
	}
	v := NewExpressVPN(Config{ConnectTimeout: 20 * time.Millisecond})
	v.SetRunner(stuck, time.Millisecond)

	err := v.Connect(context.Background(), "france")
	assert.ErrorIs(t, err, ErrVPNConnectFail)
	assert.Contains(t, err.Error(), "timed out")
}

func TestConnectHonoursCancellation(t *testing.T) {
	stuck := func(_ context.Context, name string, args ...string) ([]byte, error) {
		return []byte("Connecting..."), nil
	}
	v := NewExpressVPN(Config{ConnectTimeout: time.Minute})
	v.SetRunner(stuck, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, v.Connect(ctx, "france"), context.Canceled)
}
