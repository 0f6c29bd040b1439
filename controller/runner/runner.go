// Package runner owns the node pool for one acceptance-test run: it
// allocates nodes from a backend, provisions software on them and tears
// them down again.
package runner

import (
	"context"
	"fmt"
)

// Node is one allocated machine under test. Its address never changes
// for the lifetime of a run.
type Node struct {
	Address      string
	Distribution string
	// Username is the default login identity for remote commands.
	Username string
}

// Runner starts and stops the nodes of exactly one run.
type Runner interface {
	// StartNodes allocates count nodes and returns them in pool order.
	// On error, any nodes already created stay tracked so StopNodes can
	// reclaim them.
	StartNodes(ctx context.Context, count int) ([]Node, error)

	// Provision installs the software under test on the given nodes.
	Provision(ctx context.Context, nodes []Node) error

	// StopNodes destroys the nodes started by StartNodes. Destruction is
	// best effort: a failure on one node is logged and the rest are
	// still attempted.
	StopNodes(ctx context.Context) error
}

// Variant selects an opt-in alternate provisioning behavior.
type Variant string

const (
	VariantDistroTesting Variant = "distro-testing"
	VariantDockerHead    Variant = "docker-head"
	VariantZFSTesting    Variant = "zfs-testing"
)

// ParseVariant validates a variant name from user input.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case VariantDistroTesting, VariantDockerHead, VariantZFSTesting:
		return v, nil
	default:
		return "", fmt.Errorf("unknown variant %q", s)
	}
}

func variantStrings(variants []Variant) []string {
	out := make([]string, len(variants))
	for i, v := range variants {
		out[i] = string(v)
	}
	return out
}
