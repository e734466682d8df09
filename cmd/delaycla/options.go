package main

import (
	"fmt"
	"time"

	"github.com/opd-ai/delaycla/factory"
	"github.com/opd-ai/delaycla/interfaces"
	"github.com/spf13/cobra"
)

// options holds the command line overrides applied on top of the factory
// configuration.
type options struct {
	delayModel   string
	delay        string
	loss         float64
	lossPolicy   string
	capacity     int
	strategy     string
	simulate     bool
	coreForward  string
	coreFeed     string
	transmitRate float64
	metricsAddr  string
	noRateLimit  bool
}

// register declares the configuration flags on cmd and its subcommands.
func (o *options) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&o.delayModel, "delay-model", "", "delay model: fixed, mars or moon")
	flags.StringVar(&o.delay, "delay", "", "fixed delay, e.g. 10s or 1m30s")
	flags.Float64Var(&o.loss, "loss", 0, "percentage of bundles lost in transit")
	flags.StringVar(&o.lossPolicy, "loss-policy", "", "when loss applies: release or admission")
	flags.IntVar(&o.capacity, "capacity", 0, "maximum number of bundles held in the queue")
	flags.StringVar(&o.strategy, "strategy", "", "scheduler strategy: polling or dispatch")
	flags.BoolVar(&o.simulate, "simulate", false, "use the in-memory bundle core")
	flags.StringVar(&o.coreForward, "core-forward", "", "UDP address receiving acquired bundles")
	flags.StringVar(&o.coreFeed, "core-feed", "", "UDP address on which outbound bundles arrive")
	flags.Float64Var(&o.transmitRate, "xmit-rate", 0, "neighbor link rate in bytes per second")
	flags.StringVar(&o.metricsAddr, "metrics", "", "address serving Prometheus metrics")
	flags.BoolVar(&o.noRateLimit, "no-rate-limit", false, "disable egress pacing")
}

// config builds the engine configuration: the factory defaults with CLA_*
// environment overrides, then any flag set on the command line.
func (o *options) config(cmd *cobra.Command, f *factory.EngineFactory) (*interfaces.EngineConfig, error) {
	cfg := f.GetCurrentConfig()
	flags := cmd.Flags()

	if flags.Changed("delay-model") {
		cfg.DelayModel = o.delayModel
	}
	if flags.Changed("delay") {
		d, err := time.ParseDuration(o.delay)
		if err != nil {
			return nil, fmt.Errorf("invalid --delay %q: %w", o.delay, err)
		}
		cfg.DelayModel = "fixed"
		cfg.FixedDelay = d
	}
	if flags.Changed("loss") {
		cfg.LossPercent = o.loss
	}
	if flags.Changed("loss-policy") {
		cfg.LossPolicy = interfaces.LossPolicy(o.lossPolicy)
	}
	if flags.Changed("capacity") {
		cfg.QueueCapacity = o.capacity
	}
	if flags.Changed("strategy") {
		cfg.Strategy = interfaces.SchedulerStrategy(o.strategy)
	}
	if flags.Changed("simulate") {
		cfg.UseSimulation = o.simulate
	}
	if flags.Changed("core-forward") {
		cfg.CoreForwardAddr = o.coreForward
	}
	if flags.Changed("core-feed") {
		cfg.CoreFeedAddr = o.coreFeed
	}
	if flags.Changed("xmit-rate") {
		cfg.TransmitRate = o.transmitRate
	}
	if flags.Changed("metrics") {
		cfg.MetricsAddr = o.metricsAddr
	}
	if flags.Changed("no-rate-limit") {
		cfg.RateLimit = !o.noRateLimit
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
