// Package controller sequences one acceptance-test run: allocate nodes,
// install the software under test, run the harness, report the outcome.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/canopus-io/acceptance-tests/controller/runner"
	"github.com/canopus-io/acceptance-tests/proc"
	"github.com/canopus-io/acceptance-tests/provision"
	"github.com/canopus-io/acceptance-tests/source"
	"github.com/canopus-io/acceptance-tests/ssh"
)

const (
	harnessCommand      = "trial"
	defaultClientSuite  = "cli"
	defaultClusterSuite = "acceptance"

	// storageBackend is exposed to the harness so tests know which
	// volume backend the nodes are configured with.
	storageBackend = "zfs"
)

// Environment names the harness reads its cluster topology from.
const (
	EnvNodes         = "ACCEPTANCE_NODES"
	EnvControlNode   = "ACCEPTANCE_CONTROL_NODE"
	EnvAgentNodes    = "ACCEPTANCE_AGENT_NODES"
	EnvVolumeBackend = "ACCEPTANCE_VOLUME_BACKEND"
)

// Controller drives the client and cluster test workflows against a node
// pool owned by its runner.
type Controller struct {
	runner runner.Runner
	src    source.PackageSource
	proc   proc.Runner
	exec   ssh.Executor
}

func New(r runner.Runner, src source.PackageSource, pr proc.Runner, ex ssh.Executor) *Controller {
	return &Controller{runner: r, src: src, proc: pr, exec: ex}
}

// RunClient allocates one node, installs the client onto it and runs the
// client test suite locally and remotely. The exit code is 0 only when
// both legs pass.
func (c *Controller) RunClient(ctx context.Context, selectors []string) (int, error) {
	nodes, err := c.runner.StartNodes(ctx, 1)
	if err != nil {
		return 0, err
	}
	node := nodes[0]

	if err := c.exec.Run(ctx, node.Username, node.Address, provision.InstallCLI(c.src)); err != nil {
		return 0, fmt.Errorf("failed to install client on %s: %w", node.Address, err)
	}

	if len(selectors) == 0 {
		selectors = []string{defaultClientSuite}
	}

	localCode, err := collapse(c.proc.Run(ctx, proc.Cmd{
		Args: append([]string{harnessCommand}, selectors...),
	}))
	if err != nil {
		return 0, err
	}

	remoteCode, err := collapse(c.exec.Run(ctx, node.Username, node.Address, provision.ClientInstallationTest()))
	if err != nil {
		return 0, err
	}

	if localCode != 0 {
		return localCode, nil
	}
	return remoteCode, nil
}

// RunCluster allocates a two-node pool, provisions it, configures the
// first node as control service and both nodes as agents, then runs the
// cluster test suite with the pool exposed through the environment.
func (c *Controller) RunCluster(ctx context.Context, selectors []string) (int, error) {
	nodes, err := c.runner.StartNodes(ctx, 2)
	if err != nil {
		return 0, err
	}
	if err := c.runner.Provision(ctx, nodes); err != nil {
		return 0, err
	}

	control := nodes[0]
	if err := c.exec.Run(ctx, control.Username, control.Address, provision.ConfigureControl(control.Address)); err != nil {
		return 0, fmt.Errorf("failed to configure control service: %w", err)
	}

	// Every node runs an agent, the control node included.
	var g errgroup.Group
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			if err := c.exec.Run(ctx, node.Username, node.Address, provision.ConfigureAgent(control.Address)); err != nil {
				return fmt.Errorf("failed to configure agent on %s: %w", node.Address, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if len(selectors) == 0 {
		selectors = []string{defaultClusterSuite}
	}

	return collapse(c.proc.Run(ctx, proc.Cmd{
		Args: append([]string{harnessCommand}, selectors...),
		Env: []string{
			EnvNodes + "=" + joinAddresses(nodes),
			EnvControlNode + "=" + control.Address,
			EnvAgentNodes + "=" + joinAddresses(nodes),
			EnvVolumeBackend + "=" + storageBackend,
		},
	}))
}

// collapse maps a finished process to its exit code. A process that ran
// and exited carries a code, zero or not; a signal termination or any
// other execution failure stays an error.
func collapse(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var procExit *proc.ExitError
	if errors.As(err, &procExit) {
		return procExit.Code, nil
	}
	var sshExit *ssh.ExitError
	if errors.As(err, &sshExit) {
		return sshExit.Code, nil
	}
	return 0, err
}

func joinAddresses(nodes []runner.Node) string {
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.Address
	}
	return strings.Join(addrs, ":")
}
