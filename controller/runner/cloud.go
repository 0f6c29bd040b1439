package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/canopus-io/acceptance-tests/controller/provisioner"
	"github.com/canopus-io/acceptance-tests/proc"
	"github.com/canopus-io/acceptance-tests/provision"
	"github.com/canopus-io/acceptance-tests/source"
	"github.com/canopus-io/acceptance-tests/ssh"
)

const cloudUsername = "root"

// CloudRunner allocates an elastic pool of cloud instances for one run.
type CloudRunner struct {
	distribution string
	src          source.PackageSource
	variants     []Variant
	creator      string
	metadata     map[string]string
	runID        string
	prov         provisioner.Provisioner
	proc         proc.Runner
	exec         ssh.Executor

	mu        sync.Mutex
	instances []provisioner.Instance
}

// NewCloud validates the cloud-pool configuration and returns a runner
// for it. The metadata must carry an alphanumeric "creator" entry; it
// names the instances and tags them for audit.
func NewCloud(prov provisioner.Provisioner, distribution string, src source.PackageSource, metadata map[string]string, variants []Variant, pr proc.Runner, ex ssh.Executor) (*CloudRunner, error) {
	creator, ok := metadata["creator"]
	if !ok {
		return nil, fmt.Errorf("must specify creator metadata")
	}
	if !isAlphanumeric(creator) {
		return nil, fmt.Errorf("creator must be alphanumeric, found %q", creator)
	}

	return &CloudRunner{
		distribution: distribution,
		src:          src,
		variants:     variants,
		creator:      creator,
		metadata:     metadata,
		runID:        uuid.NewString()[:8],
		prov:         prov,
		proc:         pr,
		exec:         ex,
	}, nil
}

func (r *CloudRunner) StartNodes(ctx context.Context, count int) ([]Node, error) {
	metadata := map[string]string{
		"purpose":      "acceptance-testing",
		"distribution": r.distribution,
	}
	for k, v := range r.metadata {
		metadata[k] = v
	}

	created := make([]provisioner.Instance, count)
	// A plain Group, not WithContext: a failed creation must not cancel
	// its siblings, they finish and stay tracked for teardown.
	var g errgroup.Group
	for i := 0; i < count; i++ {
		i := i
		g.Go(func() error {
			name := fmt.Sprintf("acceptance-test-%s-%s-%d", r.creator, r.runID, i)
			inst, err := r.prov.CreateNode(ctx, name, r.distribution, metadata)
			if err != nil {
				return fmt.Errorf("error creating node %d (%s), it may have leaked into the cloud: %w", i, name, err)
			}
			r.track(inst)
			created[i] = inst
			return proc.RemoveKnownHost(ctx, r.proc, inst.Address())
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	nodes := make([]Node, count)
	for i, inst := range created {
		nodes[i] = Node{Address: inst.Address(), Distribution: r.distribution, Username: cloudUsername}
	}
	return nodes, nil
}

func (r *CloudRunner) track(inst provisioner.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = append(r.instances, inst)
}

// Provision installs the node software on every node in parallel. A
// single failure fails the aggregate, but every node's installation
// still runs to completion.
func (r *CloudRunner) Provision(ctx context.Context, nodes []Node) error {
	cmds := provision.InstallNode(r.src, variantStrings(r.variants))

	var g errgroup.Group
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			if err := r.exec.Run(ctx, node.Username, node.Address, cmds); err != nil {
				return fmt.Errorf("failed to provision %s: %w", node.Address, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopNodes destroys every tracked instance. Failures are logged and the
// remaining instances are still attempted; a second call is a no-op.
func (r *CloudRunner) StopNodes(ctx context.Context) error {
	r.mu.Lock()
	instances := r.instances
	r.instances = nil
	r.mu.Unlock()

	if len(instances) == 0 {
		slog.Info("no nodes to destroy")
		return nil
	}

	for _, inst := range instances {
		slog.Info("destroying node", "name", inst.Name())
		if err := inst.Destroy(ctx); err != nil {
			slog.Error("failed to destroy node, please do so manually", "name", inst.Name(), "error", err)
		}
	}
	return nil
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
