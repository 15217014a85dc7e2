// gantry-go runs the motion and sequencing core of a gantry pick-and-place
// and spray-paint machine. It drives the stepper and I/O boards, accepts
// operator commands on a websocket (and optionally stdin), and serves
// Prometheus metrics.
//
// Usage:
//
//	gantry-go -config ~/gantry.cfg [options]
//
// Options:
//
//	-config string    Machine configuration file
//	-sim              Simulate the boards instead of opening serial devices
//	-stdin            Read command lines from standard input
//	-logfile string   Also log to a rotating file
//	-loglevel string  DEBUG, INFO, WARN or ERROR (default INFO)
//	-preview int      Print the SVG paint path for a side (0-3) and exit
//	-commands         List the operator commands and exit
//
// Examples:
//
//	# Run against the boards named in the configuration
//	gantry-go -config ~/gantry.cfg
//
//	# Try commands without hardware
//	gantry-go -sim -stdin
//
//	# Review the front side path
//	gantry-go -config ~/gantry.cfg -sim -preview 2 > front.svg
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gantry-go/pkg/command"
	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/log"
	"gantry-go/pkg/machine"
	"gantry-go/pkg/metrics"
	"gantry-go/pkg/paint"
	"gantry-go/pkg/reactor"
	"gantry-go/pkg/settings"
	"gantry-go/pkg/status"
)

const watchdogTimeout = 2 * time.Second

func main() {
	configFile := flag.String("config", "", "Machine configuration file")
	sim := flag.Bool("sim", false, "Simulate the boards")
	stdin := flag.Bool("stdin", false, "Read command lines from standard input")
	logFile := flag.String("logfile", "", "Log file path (default: stderr only)")
	logLevel := flag.String("loglevel", "INFO", "Log level")
	preview := flag.Int("preview", -1, "Print the SVG paint path for a side and exit")
	listCommands := flag.Bool("commands", false, "List the operator commands and exit")
	flag.Parse()

	if *listCommands {
		printCommands()
		return
	}

	root := log.Default()
	root.SetLevel(log.ParseLevel(*logLevel))
	log.ConfigureFromEnv(root)
	if *logFile != "" {
		fw, err := log.AttachFile(log.RotationConfig{Filename: *logFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer fw.Close()
	}

	if *configFile == "" && !*sim {
		fmt.Fprintf(os.Stderr, "Error: -config is required unless -sim is set\n")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(*configFile, *sim, *stdin, *preview); err != nil {
		log.Error("%s", errors.Reason(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.MachineConfig, error) {
	c := config.New()
	if path != "" {
		var err error
		if c, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	mc, err := config.ParseMachineConfig(c)
	if err != nil {
		return nil, err
	}
	if err := c.CheckUnused(); err != nil {
		log.Warn("%s: %s", path, errors.Reason(err))
	}
	return mc, nil
}

func printCommands() {
	for _, c := range command.New(nil).Commands() {
		fmt.Printf("%-34s %s\n", strings.TrimSpace(c.Name+" "+c.Usage), c.Help)
	}
}

func openStore(mc *config.MachineConfig, configFile string, sim bool) (settings.KV, error) {
	if sim && configFile == "" {
		return settings.NewMemStore(), nil
	}
	return settings.Open(mc.SettingsPath)
}

func run(configFile string, sim, stdin bool, preview int) error {
	logger := log.GetLogger("main")

	mc, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	store, err := openStore(mc, configFile, sim)
	if err != nil {
		return err
	}
	hw, err := openHardware(mc, sim || preview >= 0)
	if err != nil {
		return err
	}
	defer hw.close()

	r := reactor.New()
	a, err := build(r, mc, hw, store)
	if err != nil {
		return err
	}

	if preview >= 0 {
		p, err := a.machine.PreviewSide(preview)
		if err != nil {
			return err
		}
		svg, err := paint.RenderSVG(p)
		if err != nil {
			return err
		}
		fmt.Println(svg)
		return nil
	}

	logger.Info("========================================")
	logger.Info("gantry-go starting")
	logger.Info("========================================")
	if configFile != "" {
		logger.Info("config: %s", configFile)
	}
	if hw.driver == nil {
		logger.Warn("driver board simulated")
	} else {
		logger.Info("driver board: %s", mc.Driver.Device)
	}
	if hw.io != nil {
		logger.Info("io board: %s", mc.IO.Device)
	}
	for _, ax := range a.exec.Axes().All() {
		c := ax.Config()
		logger.Info("  %s: channels=%v ganged=%v switch=%v travel=[%g, %g]",
			c.Name, c.Channels, ax.Ganged(), ax.HasSwitch(), c.PositionMin, c.PositionMax)
	}

	dispatcher := command.New(a.machine)
	statusSrv := status.New(status.Config{
		Addr: mc.Server.StatusAddr,
		Exec: dispatcher,
		Post: r.RegisterAsyncCallback,
	})
	a.machine.AddNotifier(statusSrv)

	var metricsSrv *metrics.Server
	if mc.Server.MetricsAddr != "" {
		cfg := metrics.DefaultServerConfig()
		cfg.Address = mc.Server.MetricsAddr
		cfg.Ready = a.safety.IsOperational
		metricsSrv = metrics.NewServerWithConfig(a.metrics, cfg)
		go func() {
			if err := <-metricsSrv.StartAsync(); err != nil {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
	}
	if mc.Server.StatusAddr != "" {
		if err := statusSrv.Start(); err != nil {
			return err
		}
	}

	if stdin {
		a.machine.AddNotifier(machine.NotifierFunc(func(ev machine.Event) {
			fmt.Printf("%s: %s\n", ev.Status, ev.Message)
		}))
		go readCommands(r, dispatcher, a.machine, logger)
	}

	a.attach()
	a.safety.StartWatchdog()
	defer a.safety.StopWatchdog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received %s, stopping", sig)
		err := r.RegisterAsyncCallback(func(float64) {
			a.safety.EmergencyStop(fmt.Sprintf("received %s", sig))
			r.End()
		})
		if err != nil {
			cancel()
		}
	}()

	logger.Info("ready")
	if err := r.Run(ctx); err != nil && err != context.Canceled {
		return err
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	statusSrv.Stop(shutdownCtx)
	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info("gantry-go stopped")
	return nil
}

// readCommands forwards stdin lines to the reactor until EOF. Machine
// failures are printed by the event notifier, so only parse errors are
// reported here.
func readCommands(r *reactor.Reactor, d *command.Dispatcher, m *machine.Machine, logger *log.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := sc.Text()
		err := r.RegisterAsyncCallback(func(float64) {
			in, ok, err := d.Parse(line)
			if err != nil {
				fmt.Printf("Error: %s\n", errors.Reason(err))
				return
			}
			if ok {
				m.RequestTransition(in)
			}
		})
		if err != nil {
			logger.WithError(err).Warn("command dropped")
		}
	}
}
