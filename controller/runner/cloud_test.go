package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopus-io/acceptance-tests/source"
)

func newCloudRunner(t *testing.T, prov *mockProvisioner, pr *mockProc, ex *mockExec) *CloudRunner {
	t.Helper()
	r, err := NewCloud(prov, "ubuntu-14.04", source.PackageSource{}, map[string]string{"creator": "alice"}, nil, pr, ex)
	require.NoError(t, err)
	return r
}

func TestNewCloudRequiresCreator(t *testing.T) {
	_, err := NewCloud(&mockProvisioner{}, "ubuntu-14.04", source.PackageSource{}, map[string]string{}, nil, &mockProc{}, &mockExec{})
	assert.ErrorContains(t, err, "creator")
}

func TestNewCloudRejectsNonAlphanumericCreator(t *testing.T) {
	for _, creator := range []string{"al ice", "alice!", "a-b", ""} {
		_, err := NewCloud(&mockProvisioner{}, "ubuntu-14.04", source.PackageSource{}, map[string]string{"creator": creator}, nil, &mockProc{}, &mockExec{})
		assert.ErrorContains(t, err, "alphanumeric", creator)
	}
}

func TestCloudStartNodes(t *testing.T) {
	prov := &mockProvisioner{}
	pr := &mockProc{}
	r := newCloudRunner(t, prov, pr, &mockExec{})

	nodes, err := r.StartNodes(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	seen := map[string]bool{}
	for _, n := range nodes {
		assert.NotEmpty(t, n.Address)
		assert.False(t, seen[n.Address], "duplicate address %s", n.Address)
		seen[n.Address] = true
		assert.Equal(t, "root", n.Username)
	}

	require.Len(t, prov.created, 3)
	for _, inst := range prov.created {
		assert.Contains(t, inst.name, "acceptance-test-alice-")
		assert.Equal(t, "acceptance-testing", inst.metadata["purpose"])
		assert.Equal(t, "ubuntu-14.04", inst.metadata["distribution"])
		assert.Equal(t, "alice", inst.metadata["creator"])
	}

	// One known-host cleanup per created node.
	assert.Len(t, pr.cmds, 3)
}

func TestCloudStartNodesPartialFailureStaysTracked(t *testing.T) {
	prov := &mockProvisioner{failNames: map[string]error{}}
	pr := &mockProc{}
	r := newCloudRunner(t, prov, pr, &mockExec{})
	// Fail the second of three creations.
	prov.failNames[fmt.Sprintf("acceptance-test-alice-%s-1", r.runID)] = errors.New("quota exceeded")

	_, err := r.StartNodes(context.Background(), 3)
	require.ErrorContains(t, err, "quota exceeded")
	// The two successful creations ran to completion and are tracked.
	require.Len(t, prov.created, 2)

	require.NoError(t, r.StopNodes(context.Background()))
	for _, inst := range prov.created {
		assert.Equal(t, 1, inst.destroyCount(), inst.name)
	}
}

func TestCloudProvisionRunsAllSiblings(t *testing.T) {
	ex := &mockExec{errByAddr: map[string]error{"10.0.0.2": errors.New("install failed")}}
	r := newCloudRunner(t, &mockProvisioner{}, &mockProc{}, ex)

	nodes := []Node{
		{Address: "10.0.0.1", Username: "root"},
		{Address: "10.0.0.2", Username: "root"},
		{Address: "10.0.0.3", Username: "root"},
	}
	err := r.Provision(context.Background(), nodes)

	assert.ErrorContains(t, err, "install failed")
	// The failing node does not stop its siblings.
	assert.Equal(t, len(nodes), ex.callCount())
}

func TestCloudStopNodesBestEffort(t *testing.T) {
	prov := &mockProvisioner{}
	r := newCloudRunner(t, prov, &mockProc{}, &mockExec{})

	_, err := r.StartNodes(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, prov.created, 2)
	prov.created[0].destroyErr = errors.New("already gone")

	// A failed destroy is logged, not returned, and does not stop the
	// second destroy.
	require.NoError(t, r.StopNodes(context.Background()))
	assert.Equal(t, 1, prov.created[0].destroyCount())
	assert.Equal(t, 1, prov.created[1].destroyCount())

	// Releasing an already-released pool does nothing further.
	require.NoError(t, r.StopNodes(context.Background()))
	assert.Equal(t, 1, prov.created[0].destroyCount())
	assert.Equal(t, 1, prov.created[1].destroyCount())
}
