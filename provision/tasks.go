// Package provision holds the command sequences run on nodes to install
// and configure the software under test. The scripts themselves live on
// the build server; this package only knows how to invoke them.
package provision

import (
	"fmt"
	"strings"

	"github.com/canopus-io/acceptance-tests/source"
)

// images pulled onto every node before tests start, so test runtime does
// not include registry latency.
var images = []string{
	"busybox:latest",
	"postgres:13",
}

// InstallCLI installs the client package onto a node.
func InstallCLI(src source.PackageSource) []string {
	return []string{
		fmt.Sprintf("curl -fsSL %sinstall-cli.sh | sh -s -- %s", src.BuildServer, strings.Join(sourceArgs(src), " ")),
	}
}

// InstallNode installs the cluster node packages, honoring any
// provisioning variants (extra package repositories).
func InstallNode(src source.PackageSource, variants []string) []string {
	args := sourceArgs(src)
	for _, v := range variants {
		args = append(args, "--variant "+v)
	}
	return []string{
		fmt.Sprintf("curl -fsSL %sinstall-node.sh | sh -s -- %s", src.BuildServer, strings.Join(args, " ")),
	}
}

// ClientInstallationTest verifies the client package is installed and
// runnable.
func ClientInstallationTest() []string {
	return []string{"canopus --version"}
}

// PullImages pre-pulls the container images tests depend on.
func PullImages() []string {
	cmds := make([]string, len(images))
	for i, img := range images {
		cmds[i] = "docker pull " + img
	}
	return cmds
}

// ConfigureControl turns a node into the cluster's control service.
func ConfigureControl(controlAddr string) []string {
	return []string{
		"canopusctl init --control-service " + controlAddr,
	}
}

// ConfigureAgent points a node's agent at the control service.
func ConfigureAgent(controlAddr string) []string {
	return []string{
		"canopusctl join --control-service " + controlAddr,
	}
}

func sourceArgs(src source.PackageSource) []string {
	var args []string
	if src.Version != "" {
		args = append(args, "--package-version "+src.OSVersion)
	}
	if src.Branch != "" {
		args = append(args, "--branch "+src.Branch)
	}
	return args
}
