package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Cryptizer69/nodeboi-sub000/pkg/config"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/install"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/log"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/network"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/ports"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/registry"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/runtime"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/syncer"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var (
	flagConfig   string
	flagLogLevel string
	flagLogJSON  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nodeboi",
	Short: "nodeboi - multi-instance Ethereum node manager for a single host",
	Long: `nodeboi installs and removes independent Ethereum node instances on one
host, allocating ports without collision, managing the shared docker
network they join, and keeping monitoring and validator configuration in
sync with whichever instances exist.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{Level: log.Level(flagLogLevel), JSONOutput: flagLogJSON})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("nodeboi version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "/etc/nodeboi/config.toml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Emit JSON logs")

	installCmd.Flags().String("execution", "geth", "Execution client (geth, reth, nethermind, besu)")
	installCmd.Flags().String("consensus", "lighthouse", "Consensus client (lighthouse, teku, nimbus, lodestar, grandine)")
	listCmd.Flags().Bool("json", false, "Machine-readable output")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(listCmd)
}

// components wires the core from configuration. The constructors take the
// config explicitly; nothing reads process-wide state.
type components struct {
	cfg       *config.Config
	registry  *registry.Registry
	installer *install.Installer
}

func buildComponents() (*components, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	rt := runtime.NewDockerRuntime(cfg.DockerBin, nil)
	reg := registry.New(cfg.InstanceRoot, cfg.InstancePrefix, rt)
	alloc := ports.NewAllocator(ports.Sources{
		Reservations: reg.AllReservations,
		Bindings:     rt.ListContainerPorts,
	}, cfg.MaxPortProbes)
	netmgr := network.NewManager(cfg, rt, reg)
	sync := syncer.New(cfg, reg, rt)

	return &components{
		cfg:       cfg,
		registry:  reg,
		installer: install.NewInstaller(cfg, rt, reg, alloc, netmgr, sync),
	}, nil
}

// signalContext cancels on SIGINT/SIGTERM; the installer switches to its
// rollback path at the next checkpoint instead of dying mid-write.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var installCmd = &cobra.Command{
	Use:   "install [NAME]",
	Short: "Install a new node instance",
	Long: `Install a new node instance as an all-or-nothing operation. With no NAME
the next free instance number is used. A failure before promotion leaves no
trace; a workload start failure afterwards leaves the instance registered
with failed status for diagnosis.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents()
		if err != nil {
			return err
		}
		execution, _ := cmd.Flags().GetString("execution")
		consensus, _ := cmd.Flags().GetString("consensus")

		req := install.Request{ExecutionClient: execution, ConsensusClient: consensus}
		if len(args) == 1 {
			req.Name = args[0]
		}

		ctx, cancel := signalContext()
		defer cancel()

		inst, summary, err := c.installer.Install(ctx, req)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Installed %s (%s + %s)\n", inst.Name, inst.ExecutionClient, inst.ConsensusClient)
		for _, r := range inst.Ports {
			fmt.Printf("  %-12s %s\n", r.Purpose, r.String())
		}
		printSummary(summary.Warnings)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a node instance",
	Long: `Remove a node instance: stop its workload, deregister it, tear down the
shared network if nothing else uses it, delete its directory, and
resynchronize dependent configuration. Removing an absent instance is a
no-op success.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		summary, err := c.installer.Remove(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Removed %s\n", args[0])
		printSummary(summary.Warnings)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		instances, incomplete, err := c.registry.List(ctx)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(instances)
		}

		if len(instances) == 0 {
			fmt.Println("No instances installed")
		}
		for _, inst := range instances {
			fmt.Printf("%-10s %-8s %s + %s\n", inst.Name, inst.Status, inst.ExecutionClient, inst.ConsensusClient)
			for _, r := range inst.Ports {
				fmt.Printf("  %-12s %s\n", r.Purpose, r.String())
			}
		}
		for _, dir := range incomplete {
			fmt.Printf("Warning: %s looks like an instance but has no completion marker; remove it manually if it is a leftover\n", dir)
		}
		return nil
	},
}

func printSummary(warnings []string) {
	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	if n := len(warnings); n > 0 {
		fmt.Printf("Completed with %d warning(s)\n", n)
	}
}
