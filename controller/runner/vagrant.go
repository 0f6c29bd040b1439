package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/canopus-io/acceptance-tests/proc"
	"github.com/canopus-io/acceptance-tests/provision"
	"github.com/canopus-io/acceptance-tests/source"
	"github.com/canopus-io/acceptance-tests/ssh"
)

const vagrantUsername = "vagrant"

// vagrantAddresses is the fixed address pair the Vagrantfile brings up.
// The local pool cannot grow or shrink.
var vagrantAddresses = []string{"172.16.255.240", "172.16.255.241"}

// VagrantRunner runs acceptance tests against a fixed pair of local
// virtual machines. The box image ships pre-provisioned, so Provision is
// a no-op.
type VagrantRunner struct {
	distribution string
	src          source.PackageSource
	path         string
	proc         proc.Runner
	exec         ssh.Executor
}

// NewVagrant validates the local-pool configuration and returns a
// runner for it. The distribution must have a vagrant target directory
// under topLevel, and variants are not supported on the pre-built box.
func NewVagrant(topLevel, distribution string, src source.PackageSource, variants []Variant, pr proc.Runner, ex ssh.Executor) (*VagrantRunner, error) {
	path := filepath.Join(topLevel, "vagrant-acceptance-targets", distribution)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("distribution not found: %s", distribution)
	}
	if len(variants) > 0 {
		return nil, fmt.Errorf("variants unsupported on vagrant: %s", strings.Join(variantStrings(variants), ", "))
	}

	return &VagrantRunner{
		distribution: distribution,
		src:          src,
		path:         path,
		proc:         pr,
		exec:         ex,
	}, nil
}

func (r *VagrantRunner) StartNodes(ctx context.Context, count int) ([]Node, error) {
	if count != len(vagrantAddresses) {
		return nil, fmt.Errorf("vagrant pool is fixed at %d nodes, %d requested", len(vagrantAddresses), count)
	}

	// Destroy any previous pool first so every run starts from a clean
	// box state.
	if err := r.vagrant(ctx, nil, "destroy", "-f"); err != nil {
		return nil, fmt.Errorf("failed to reset vagrant pool: %w", err)
	}

	var env []string
	if r.src.Version != "" {
		env = []string{"BOX_VERSION=" + boxVersion(r.src.Version)}
	}
	if err := r.vagrant(ctx, env, "up"); err != nil {
		return nil, fmt.Errorf("failed to boot vagrant pool: %w", err)
	}

	nodes := make([]Node, len(vagrantAddresses))
	for i, addr := range vagrantAddresses {
		// Stale host keys from a previous pool must go before the first
		// login attempt.
		if err := proc.RemoveKnownHost(ctx, r.proc, addr); err != nil {
			return nil, err
		}
		if err := r.exec.Run(ctx, "root", addr, provision.PullImages()); err != nil {
			return nil, fmt.Errorf("failed to pull images on %s: %w", addr, err)
		}
		nodes[i] = Node{Address: addr, Distribution: r.distribution, Username: vagrantUsername}
	}
	return nodes, nil
}

// Provision does nothing: the vagrant box image is already provisioned.
func (r *VagrantRunner) Provision(ctx context.Context, nodes []Node) error {
	return nil
}

func (r *VagrantRunner) StopNodes(ctx context.Context) error {
	return r.vagrant(ctx, nil, "destroy", "-f")
}

func (r *VagrantRunner) vagrant(ctx context.Context, env []string, args ...string) error {
	return r.proc.Run(ctx, proc.Cmd{
		Args: append([]string{"vagrant"}, args...),
		Dir:  r.path,
		Env:  env,
	})
}

// boxVersion maps a package version onto the box versioning scheme,
// which allows only dotted numeric segments.
func boxVersion(version string) string {
	v := strings.TrimSuffix(version, "+dirty")
	return strings.ReplaceAll(v, "-", ".")
}
