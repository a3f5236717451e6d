package engine

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennerdo30/heimdall/internal/netmon"
	"github.com/rennerdo30/heimdall/internal/util"
)

func TestQueueSerializesCalls(t *testing.T) {
	q := NewQueue(DefaultQueueSize)
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	const calls = 20

	var (
		mu         sync.Mutex
		order      []int
		inflight   atomic.Int32
		overlapped atomic.Bool
		wg         sync.WaitGroup
	)

	wg.Add(calls)
	for i := 0; i < calls; i++ {
		i := i
		err := q.Submit("test", func(ctx context.Context) error {
			defer wg.Done()
			if inflight.Add(1) > 1 {
				overlapped.Store(true)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			inflight.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.False(t, overlapped.Load(), "calls must never overlap")
	require.Len(t, order, calls)
	for i, got := range order {
		assert.Equal(t, i, got, "calls must run in submission order")
	}

	status := q.Status()
	assert.Equal(t, int64(calls), status.Executed)
	assert.Equal(t, int64(0), status.Failed)
}

func TestQueueSubmitBeforeStart(t *testing.T) {
	q := NewQueue(4)

	err := q.Submit("early", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueStopped)
	assert.Equal(t, int64(1), q.Status().Dropped)
}

func TestQueueSubmitAfterStop(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Start(context.Background()))
	q.Stop()

	err := q.Submit("late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueStopped)

	assert.ErrorIs(t, q.Start(context.Background()), ErrQueueStopped)
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	release := make(chan struct{})
	running := make(chan struct{})
	err := q.Submit("blocker", func(ctx context.Context) error {
		close(running)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-running

	// The worker is busy, so this one sits in the buffer.
	require.NoError(t, q.Submit("buffered", func(ctx context.Context) error { return nil }))

	err = q.Submit("overflow", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), q.Status().Dropped)

	close(release)
}

func TestQueueRecordsFailure(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	done := make(chan struct{})
	err := q.Submit("failing", func(ctx context.Context) error {
		defer close(done)
		return errors.New("engine exploded")
	})
	require.NoError(t, err, "task failure must not surface at submission")
	<-done

	require.Eventually(t, func() bool {
		return q.Status().Failed == 1
	}, time.Second, 10*time.Millisecond)
}

func TestQueueStopWithoutStart(t *testing.T) {
	q := NewQueue(4)
	q.Stop()
	q.Stop()

	assert.False(t, q.Status().Running)
}

func TestStaticEngineLifecycle(t *testing.T) {
	e := NewStaticEngine()
	ctx := context.Background()

	err := e.RebindEgress(ctx, nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Start(ctx), "start must be idempotent")

	nets := []netmon.PhysicalNetwork{{Name: "wlan0", Index: 3}}
	require.NoError(t, e.RebindEgress(ctx, nets))
	require.Len(t, e.LastCandidates(), 1)
	assert.Equal(t, "wlan0", e.LastCandidates()[0].Name)

	require.NoError(t, e.RebindEgress(ctx, nil), "empty rebind reflects total loss")
	assert.Empty(t, e.LastCandidates())

	require.NoError(t, e.ResetNetworkStack(ctx))
	require.NoError(t, e.ReleaseHeldConnections(ctx))

	rebinds, resets, releases := e.Counters()
	assert.Equal(t, int64(2), rebinds)
	assert.Equal(t, int64(1), resets)
	assert.Equal(t, int64(1), releases)

	require.NoError(t, e.Stop(ctx))
	assert.ErrorIs(t, e.ResetNetworkStack(ctx), ErrNotStarted)
}

func TestStaticEngineResetRecordsReason(t *testing.T) {
	e := NewStaticEngine()
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	require.NoError(t, e.ResetNetworkStack(util.WithReason(ctx, "link recovery")))
	assert.Equal(t, "link recovery", e.LastResetReason())

	require.NoError(t, e.ResetNetworkStack(ctx), "reason is optional")
	assert.Empty(t, e.LastResetReason())
}

func TestStaticEngineIsReleaser(t *testing.T) {
	var e Engine = NewStaticEngine()

	_, ok := e.(ConnectionReleaser)
	assert.True(t, ok)

	_, ok = e.(LinkReporter)
	assert.False(t, ok, "static engine has no link state to report")
}

func TestCallError(t *testing.T) {
	inner := errors.New("device gone")
	err := NewCallError("wireguard", "rebind", inner)

	assert.Equal(t, "wireguard", err.Engine)
	assert.Equal(t, "rebind", err.Op)
	assert.Contains(t, err.Error(), "wireguard")
	assert.Contains(t, err.Error(), "rebind")
	assert.ErrorIs(t, err, inner)
}

func TestConfigValidate(t *testing.T) {
	validKey := base64.StdEncoding.EncodeToString(make([]byte, 32))

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "empty defaults to static",
			config: Config{},
		},
		{
			name:    "unknown type",
			config:  Config{Type: "openvpn"},
			wantErr: true,
		},
		{
			name: "wireguard missing private key",
			config: Config{
				Type: "wireguard",
				WireGuard: WireGuardConfig{
					Address: "10.64.0.2/32",
					Peer:    WireGuardPeer{PublicKey: validKey, Endpoint: "vpn.example.com:51820"},
				},
			},
			wantErr: true,
		},
		{
			name: "wireguard missing endpoint",
			config: Config{
				Type: "wireguard",
				WireGuard: WireGuardConfig{
					PrivateKey: validKey,
					Address:    "10.64.0.2/32",
					Peer:       WireGuardPeer{PublicKey: validKey},
				},
			},
			wantErr: true,
		},
		{
			name: "wireguard bad address",
			config: Config{
				Type: "wireguard",
				WireGuard: WireGuardConfig{
					PrivateKey: validKey,
					Address:    "not-a-prefix",
					Peer:       WireGuardPeer{PublicKey: validKey, Endpoint: "vpn.example.com:51820"},
				},
			},
			wantErr: true,
		},
		{
			name: "wireguard valid",
			config: Config{
				Type: "wireguard",
				WireGuard: WireGuardConfig{
					PrivateKey: validKey,
					Address:    "10.64.0.2/32",
					Peer:       WireGuardPeer{PublicKey: validKey, Endpoint: "vpn.example.com:51820"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, tt.config.QueueSize)
		})
	}
}

func TestConfigValidateFillsWireGuardDefaults(t *testing.T) {
	validKey := base64.StdEncoding.EncodeToString(make([]byte, 32))
	cfg := WireGuardConfig{
		PrivateKey: validKey,
		Address:    "10.64.0.2/32",
		Peer:       WireGuardPeer{PublicKey: validKey, Endpoint: "vpn.example.com:51820"},
	}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1420, cfg.MTU)
	assert.Equal(t, 25, cfg.Peer.PersistentKeepalive)
	assert.Equal(t, []string{"0.0.0.0/0", "::/0"}, cfg.Peer.AllowedIPs)
}

func TestNewSelectsEngine(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "static", e.Name())

	validKey := base64.StdEncoding.EncodeToString(make([]byte, 32))
	e, err = New(Config{
		Type: "wireguard",
		WireGuard: WireGuardConfig{
			PrivateKey: validKey,
			Address:    "10.64.0.2/32",
			Peer:       WireGuardPeer{PublicKey: validKey, Endpoint: "vpn.example.com:51820"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "wireguard", e.Name())

	_, err = New(Config{Type: "bogus"})
	assert.Error(t, err)
}

func TestKeyToHex(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	wantHex := hex.EncodeToString(raw)

	got, err := keyToHex(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, wantHex, got)

	got, err = keyToHex(wantHex)
	require.NoError(t, err)
	assert.Equal(t, wantHex, got)

	_, err = keyToHex("definitely not a key")
	assert.Error(t, err)

	_, err = keyToHex(base64.StdEncoding.EncodeToString(make([]byte, 16)))
	assert.Error(t, err, "short keys must be rejected")
}

func TestDerivePublicKey(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 64)
	}
	privHex := hex.EncodeToString(raw)
	privB64 := base64.StdEncoding.EncodeToString(raw)

	fromHex, err := DerivePublicKey(privHex)
	require.NoError(t, err)
	fromB64, err := DerivePublicKey(privB64)
	require.NoError(t, err)

	assert.Equal(t, fromHex, fromB64, "encoding of the input must not change the key")

	pub, err := base64.StdEncoding.DecodeString(fromHex)
	require.NoError(t, err)
	assert.Len(t, pub, 32)
	assert.NotEqual(t, raw, pub)

	_, err = DerivePublicKey("garbage")
	assert.Error(t, err)
}

func TestParseLastHandshake(t *testing.T) {
	state := fmt.Sprintf("public_key=abc\nlast_handshake_time_sec=%d\nlast_handshake_time_nsec=0\n", 1700000000)
	assert.Equal(t, time.Unix(1700000000, 0), parseLastHandshake(state))

	assert.True(t, parseLastHandshake("last_handshake_time_sec=0\n").IsZero(), "zero means never")
	assert.True(t, parseLastHandshake("rx_bytes=10\n").IsZero())
}

func TestParseTraffic(t *testing.T) {
	rx, tx := parseTraffic("rx_bytes=1234\ntx_bytes=5678\nerrno=0\n")
	assert.Equal(t, int64(1234), rx)
	assert.Equal(t, int64(5678), tx)

	rx, tx = parseTraffic("public_key=abc\n")
	assert.Zero(t, rx)
	assert.Zero(t, tx)
}
