package runner

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/canopus-io/acceptance-tests/controller/provisioner"
	"github.com/canopus-io/acceptance-tests/proc"
)

// mockProc records local commands and fails any whose joined arguments
// contain failOn.
type mockProc struct {
	mu     sync.Mutex
	cmds   []proc.Cmd
	failOn string
	err    error
}

func (m *mockProc) Run(_ context.Context, cmd proc.Cmd) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmds = append(m.cmds, cmd)
	if m.failOn != "" && strings.Contains(strings.Join(cmd.Args, " "), m.failOn) {
		return m.err
	}
	return nil
}

type execCall struct {
	user     string
	addr     string
	commands []string
}

// mockExec records remote executions and returns errByAddr entries when
// set.
type mockExec struct {
	mu        sync.Mutex
	calls     []execCall
	errByAddr map[string]error
}

func (m *mockExec) Run(_ context.Context, user, addr string, commands []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, execCall{user: user, addr: addr, commands: commands})
	return m.errByAddr[addr]
}

func (m *mockExec) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockProvisioner hands out instances with predictable addresses and
// fails creation for names listed in failNames.
type mockProvisioner struct {
	mu        sync.Mutex
	created   []*mockInstance
	failNames map[string]error
	nextAddr  int
}

func (m *mockProvisioner) CreateNode(_ context.Context, name, distribution string, metadata map[string]string) (provisioner.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failNames[name]; ok {
		return nil, err
	}
	m.nextAddr++
	inst := &mockInstance{
		name:     name,
		addr:     "10.0.0." + strconv.Itoa(m.nextAddr),
		metadata: metadata,
	}
	m.created = append(m.created, inst)
	return inst, nil
}

type mockInstance struct {
	mu         sync.Mutex
	name       string
	addr       string
	metadata   map[string]string
	destroyed  int
	destroyErr error
}

func (m *mockInstance) Name() string    { return m.name }
func (m *mockInstance) Address() string { return m.addr }

func (m *mockInstance) Destroy(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed++
	return m.destroyErr
}

func (m *mockInstance) destroyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}
