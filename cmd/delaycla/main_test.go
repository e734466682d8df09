package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/delaycla"
	"github.com/opd-ai/delaycla/factory"
	"github.com/opd-ai/delaycla/interfaces"
	simulation "github.com/opd-ai/delaycla/testing"
	"github.com/opd-ai/delaycla/transport"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingEndpointPrintsUsage(t *testing.T) {
	for _, sub := range []string{"induct", "outduct"} {
		t.Run(sub, func(t *testing.T) {
			var out bytes.Buffer
			root := newRootCommand(&out)
			root.SetArgs([]string{sub})

			require.NoError(t, root.Execute())
			assert.Contains(t, out.String(), sub+" <host>[:<port>]")
		})
	}
}

func TestTooManyArguments(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand(&out)
	root.SetArgs([]string{"induct", "a:1", "b:2"})
	assert.Error(t, root.Execute())
}

func TestBadEndpointIsRejected(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand(&out)
	root.SetArgs([]string{"outduct", "peer:notaport"})
	assert.Error(t, root.Execute())
}

// parsed registers options on a throwaway command tree and parses args.
func parsed(t *testing.T, args ...string) (*options, *cobra.Command) {
	t.Helper()
	opts := &options{}
	root := &cobra.Command{Use: "delaycla"}
	opts.register(root)
	sub := &cobra.Command{Use: "induct", Run: func(*cobra.Command, []string) {}}
	root.AddCommand(sub)
	require.NoError(t, sub.ParseFlags(args))
	return opts, sub
}

func TestFlagsOverrideConfig(t *testing.T) {
	opts, cmd := parsed(t,
		"--delay", "2s",
		"--loss", "5",
		"--loss-policy", "admission",
		"--capacity", "10",
		"--strategy", "dispatch",
		"--no-rate-limit",
		"--simulate",
		"--xmit-rate", "125000",
		"--metrics", "127.0.0.1:9100",
	)

	cfg, err := opts.config(cmd, factory.NewEngineFactory())
	require.NoError(t, err)
	assert.Equal(t, "fixed", cfg.DelayModel)
	assert.Equal(t, 2*time.Second, cfg.FixedDelay)
	assert.Equal(t, 5.0, cfg.LossPercent)
	assert.Equal(t, interfaces.LossAtAdmission, cfg.LossPolicy)
	assert.Equal(t, 10, cfg.QueueCapacity)
	assert.Equal(t, interfaces.StrategyDispatch, cfg.Strategy)
	assert.False(t, cfg.RateLimit)
	assert.True(t, cfg.UseSimulation)
	assert.Equal(t, 125000.0, cfg.TransmitRate)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
}

func TestUnsetFlagsKeepDefaults(t *testing.T) {
	opts, cmd := parsed(t, "--delay-model", "mars")

	cfg, err := opts.config(cmd, factory.NewEngineFactory())
	require.NoError(t, err)
	assert.Equal(t, "mars", cfg.DelayModel)
	assert.Equal(t, 1000, cfg.QueueCapacity)
	assert.True(t, cfg.RateLimit)
}

func TestConfigStartsFromGivenFactory(t *testing.T) {
	f := factory.NewEngineFactory()
	f.SwitchToSimulation()

	opts, cmd := parsed(t, "--capacity", "7")
	cfg, err := opts.config(cmd, f)
	require.NoError(t, err)
	assert.True(t, cfg.UseSimulation, "the caller's factory supplies the base configuration")
	assert.Equal(t, 7, cfg.QueueCapacity)
	assert.Equal(t, factory.DefaultQueueCapacity, f.GetCurrentConfig().QueueCapacity)
}

func TestInvalidFlagValues(t *testing.T) {
	opts, cmd := parsed(t, "--delay", "soon")
	_, err := opts.config(cmd, factory.NewEngineFactory())
	assert.Error(t, err)

	opts, cmd = parsed(t, "--loss", "150")
	_, err = opts.config(cmd, factory.NewEngineFactory())
	assert.ErrorIs(t, err, interfaces.ErrInvalidLoss)

	opts, cmd = parsed(t, "--strategy", "threads")
	_, err = opts.config(cmd, factory.NewEngineFactory())
	assert.ErrorIs(t, err, interfaces.ErrInvalidStrategy)

	opts, cmd = parsed(t, "--loss-policy", "midway")
	_, err = opts.config(cmd, factory.NewEngineFactory())
	assert.ErrorIs(t, err, interfaces.ErrInvalidLossPolicy)
}

func TestServeClosesCoreWhenEngineStops(t *testing.T) {
	cfg := factory.NewEngineFactory().TestConfig()
	receiver, err := transport.ListenAddr("127.0.0.1:0")
	require.NoError(t, err)
	core := simulation.NewSimulatedBundleCore(cfg)
	engine, err := delaycla.NewInduct(cfg, receiver, core)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- serve(context.Background(), engine, cfg, core) }()

	time.Sleep(20 * time.Millisecond)
	engine.Shutdown()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after Shutdown")
	}
	assert.Eventually(t, func() bool {
		return errors.Is(core.BeginAcquisition(), interfaces.ErrCoreShutdown)
	}, time.Second, 5*time.Millisecond, "core closed once the engine stopped")
}
