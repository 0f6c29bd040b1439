// Command acceptance provisions a short-lived node pool, runs the
// acceptance tests against it and tears it down again, unless the
// operator asks to keep a failed pool for debugging.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canopus-io/acceptance-tests/cmd/acceptance/config"
	"github.com/canopus-io/acceptance-tests/controller"
	"github.com/canopus-io/acceptance-tests/controller/provisioner"
	"github.com/canopus-io/acceptance-tests/controller/runner"
	"github.com/canopus-io/acceptance-tests/proc"
	"github.com/canopus-io/acceptance-tests/ssh"
)

var flags config.Flags

var rootCmd = &cobra.Command{
	Use:   "acceptance [flags] [test selectors...]",
	Short: "Run the acceptance tests against an ephemeral node pool",
	Long: "Provisions a pool of nodes from the chosen provider, installs the\n" +
		"software under test, runs the selected test suites and destroys the\n" +
		"pool afterwards. With --keep, a failed pool survives for debugging.",
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags.Selectors = args
		return run(cmd.Context())
	},
}

func init() {
	fs := rootCmd.Flags()
	fs.StringVar(&flags.Distribution, "distribution", "", "target distribution, one of: "+strings.Join(config.Distributions, ", "))
	fs.StringVar(&flags.Provider, "provider", config.ProviderVagrant, "provider to test against, one of: "+strings.Join(config.Providers, ", "))
	fs.StringVar(&flags.Type, "type", string(config.TestTypeCluster), "whether to run client or cluster tests")
	fs.StringVar(&flags.ConfigFile, "config-file", "", "configuration file for cloud providers")
	fs.StringVar(&flags.Branch, "branch", "", "branch to grab packages from")
	fs.StringVar(&flags.Version, "version", "", "version of the software to install")
	fs.StringVar(&flags.BuildServer, "build-server", "", "base URL of the build server for package downloads")
	fs.StringArrayVar(&flags.Variants, "variant", nil, "variant of the provisioning to run (repeatable)")
	fs.BoolVarP(&flags.Keep, "keep", "k", false, "keep nodes around if the tests fail")
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var status *exitStatusError
		if errors.As(err, &status) {
			if status.err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", prog(), status.err)
			}
			os.Exit(status.code)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", prog(), err)
		os.Exit(1)
	}
}

// exitStatusError carries a computed run outcome out of the cobra layer.
type exitStatusError struct {
	code int
	err  error
}

func (e *exitStatusError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func run(ctx context.Context) error {
	conf, err := config.Parse(flags)
	if err != nil {
		return err
	}

	pr := proc.ExecRunner{}
	ex := &ssh.AgentExecutor{}

	r, err := buildRunner(conf, pr, ex)
	if err != nil {
		return err
	}

	ctrl := controller.New(r, conf.Source, pr, ex)
	var workflow controller.Workflow
	switch conf.Type {
	case config.TestTypeClient:
		workflow = func(ctx context.Context) (int, error) {
			return ctrl.RunClient(ctx, conf.Selectors)
		}
	case config.TestTypeCluster:
		workflow = func(ctx context.Context) (int, error) {
			return ctrl.RunCluster(ctx, conf.Selectors)
		}
	}

	guard := controller.NewGuard(r, conf.Keep)
	code, err := guard.Run(ctx, workflow)
	if code == 0 && err == nil {
		return nil
	}
	return &exitStatusError{code: code, err: err}
}

func buildRunner(conf *config.Config, pr proc.Runner, ex ssh.Executor) (runner.Runner, error) {
	switch conf.Provider {
	case config.ProviderVagrant:
		topLevel, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return runner.NewVagrant(topLevel, conf.Distribution, conf.Source, conf.Variants, pr, ex)
	case config.ProviderDigitalOcean:
		do := conf.DigitalOcean
		prov := provisioner.NewDigitalOcean(do.Token, do.Region, do.Size, do.SSHKeyIDs, ex)
		return runner.NewCloud(prov, conf.Distribution, conf.Source, conf.Metadata, conf.Variants, pr, ex)
	default:
		// config.Parse only lets known providers through.
		return nil, fmt.Errorf("provider %q not supported", conf.Provider)
	}
}

func prog() string {
	return filepath.Base(os.Args[0])
}
