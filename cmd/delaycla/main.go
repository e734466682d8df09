// Command delaycla runs a delay and loss emulating UDP convergence layer
// adapter. The induct subcommand listens for datagrams and feeds them to the
// bundle core after the simulated delay; the outduct subcommand takes bundles
// from the core and sends them to a peer after the same delay.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/delaycla"
	"github.com/opd-ai/delaycla/factory"
	"github.com/opd-ai/delaycla/interfaces"
	"github.com/opd-ai/delaycla/metrics"
	"github.com/opd-ai/delaycla/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	factory.ConfigureLogging(os.Stderr)

	root := newRootCommand(os.Stdout)
	if err := root.Execute(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("delaycla failed")
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "delaycla",
		Short:         "Delay and loss emulating UDP convergence layer adapter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	opts.register(root)

	root.AddCommand(inductSubcommand(opts), outductSubcommand(opts))
	return root
}

func inductSubcommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "induct <host>[:<port>]",
		Short: "Receive datagrams and hand them to the bundle core after the delay",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Usage()
			}
			ep, err := transport.ParseEndpoint(args[0], "0.0.0.0")
			if err != nil {
				return err
			}
			f := factory.NewEngineFactory()
			cfg, err := opts.config(cmd, f)
			if err != nil {
				return err
			}
			return runInduct(cmd.Context(), f, cfg, ep)
		},
	}
}

func outductSubcommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "outduct <host>[:<port>]",
		Short: "Send bundles from the bundle core to a peer after the delay",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Usage()
			}
			ep, err := transport.ParseEndpoint(args[0], localHostName())
			if err != nil {
				return err
			}
			f := factory.NewEngineFactory()
			cfg, err := opts.config(cmd, f)
			if err != nil {
				return err
			}
			return runOutduct(cmd.Context(), f, cfg, ep)
		},
	}
}

func runInduct(ctx context.Context, f *factory.EngineFactory, cfg *interfaces.EngineConfig, ep transport.Endpoint) error {
	core, err := f.CreateInductCore(cfg)
	if err != nil {
		return err
	}
	defer closeCore(core)

	receiver, err := transport.Listen(ep)
	if err != nil {
		return err
	}

	engine, err := delaycla.NewInduct(cfg, receiver, core)
	if err != nil {
		receiver.Close()
		return err
	}
	return serve(ctx, engine, cfg, core)
}

func runOutduct(ctx context.Context, f *factory.EngineFactory, cfg *interfaces.EngineConfig, ep transport.Endpoint) error {
	core, err := f.CreateOutductCore(cfg)
	if err != nil {
		return err
	}
	defer closeCore(core)

	sender, err := transport.Dial(ep)
	if err != nil {
		return err
	}

	engine, err := delaycla.NewOutduct(cfg, sender, core)
	if err != nil {
		sender.Close()
		return err
	}
	return serve(ctx, engine, cfg, core)
}

// serve runs engine until a termination signal arrives, exposing metrics
// when configured. The core is closed as soon as the engine starts stopping
// so a delivery blocked in the core gives up instead of delaying shutdown.
func serve(ctx context.Context, engine *delaycla.Engine, cfg *interfaces.EngineConfig, core interfaces.BundleCore) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case sig := <-signals:
			logrus.WithFields(logrus.Fields{
				"function": "serve",
				"signal":   sig.String(),
			}).Info("Shutting down")
			engine.Shutdown()
		case <-engine.Stopped():
		case <-engine.Done():
			return
		}
		closeCore(core)
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "serve",
					"addr":     cfg.MetricsAddr,
					"error":    err.Error(),
				}).Warn("Metrics endpoint stopped")
			}
		}()
	}

	return engine.Run(ctx)
}

func closeCore(core interfaces.BundleCore) {
	if err := core.Close(); err != nil && !errors.Is(err, interfaces.ErrCoreShutdown) {
		logrus.WithFields(logrus.Fields{
			"function": "closeCore",
			"error":    err.Error(),
		}).Warn("Failed to close bundle core")
	}
}

// localHostName names the peer used when an outduct endpoint omits its host.
func localHostName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "127.0.0.1"
	}
	return name
}
