// Package ssh runs ordered command sequences on remote nodes. It is the
// orchestrator's only channel into a provisioned machine.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const defaultPort = "22"

// Executor runs commands as user on the node at addr. The commands run
// in order within one session; the first failing command aborts the
// rest.
type Executor interface {
	Run(ctx context.Context, user, addr string, commands []string) error
}

// ExitError reports a remote command that ran and exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.Code)
}

// SignalError reports a remote command killed by a signal, with no exit
// status available. Callers must treat this as a failed execution, not
// as an exit code.
type SignalError struct {
	Signal string
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("remote command terminated by signal %s", e.Signal)
}

// AgentExecutor authenticates through the local ssh-agent and streams
// remote output to Out, each line prefixed with the node it came from.
type AgentExecutor struct {
	// Port to connect to, 22 when empty.
	Port string
	// Out receives remote stdout and stderr. Defaults to os.Stdout.
	Out io.Writer
}

func (e *AgentExecutor) Run(ctx context.Context, user, addr string, commands []string) error {
	script := strings.Join(commands, " && ")

	out := e.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, "[%s@%s]: Running %s\n", user, addr, script)

	port := e.Port
	if port == "" {
		port = defaultPort
	}

	errCh := make(chan error, 1)
	go func() {
		lw := newLineWriter(out, fmt.Sprintf("[%s@%s]: ", user, addr))
		errCh <- e.run(user, net.JoinHostPort(addr, port), script, lw)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *AgentExecutor) run(user, hostPort, script string, out io.Writer) error {
	auth, err := agentAuth()
	if err != nil {
		return err
	}
	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	conn, err := ssh.Dial("tcp", hostPort, config)
	if err != nil {
		return fmt.Errorf("can't connect to %s: %w", hostPort, err)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return fmt.Errorf("can't create session: %w", err)
	}
	defer session.Close()

	session.Stdout = out
	session.Stderr = out

	if err := session.Run(script); err != nil {
		return mapRunError(err)
	}
	return nil
}

// mapRunError translates x/crypto session errors into this package's
// boundary types.
func mapRunError(err error) error {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		if sig := exitErr.Signal(); sig != "" {
			return &SignalError{Signal: sig}
		}
		return &ExitError{Code: exitErr.ExitStatus()}
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return fmt.Errorf("remote command finished without exit status: %w", err)
	}
	return err
}

func agentAuth() (ssh.AuthMethod, error) {
	sock, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK"))
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH_AUTH_SOCK: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(sock).Signers), nil
}

// lineWriter prefixes every line written through it, buffering partial
// lines until their newline arrives.
type lineWriter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	buf    bytes.Buffer
}

func newLineWriter(w io.Writer, prefix string) *lineWriter {
	return &lineWriter{w: w, prefix: prefix}
}

func (l *lineWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// Partial line, keep it buffered.
			l.buf.WriteString(line)
			break
		}
		if _, err := fmt.Fprintf(l.w, "%s%s", l.prefix, line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}
