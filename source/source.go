// Package source describes where the software under test comes from:
// a released version, a development branch, or a build-server artifact.
package source

import (
	"strings"

	"golang.org/x/mod/semver"
)

// DefaultBuildServer is the base URL packages are downloaded from when
// no build server is configured.
const DefaultBuildServer = "http://build.canopus.io/"

// PackageSource is an immutable description of the package to install
// on provisioned nodes. Construct it with New; never mutate it afterwards.
type PackageSource struct {
	// Version is the version to install, empty for "latest from branch".
	Version string
	// OSVersion is the version string as the OS package manager sees it.
	OSVersion string
	// Branch is the build-server branch to fetch packages from.
	Branch string
	// BuildServer is the base URL of the package build server.
	BuildServer string
}

func New(version, branch, buildServer string) PackageSource {
	if buildServer == "" {
		buildServer = DefaultBuildServer
	}
	return PackageSource{
		Version:     Canonical(version),
		OSVersion:   osVersion(version),
		Branch:      branch,
		BuildServer: buildServer,
	}
}

// Canonical normalizes a semver version to its canonical form without the
// leading "v". Versions that are not valid semver (branch build markers,
// build-server artifact names) pass through unchanged.
func Canonical(version string) string {
	if version == "" {
		return ""
	}
	v := "v" + strings.TrimPrefix(version, "v")
	if !semver.IsValid(v) {
		return version
	}
	return strings.TrimPrefix(semver.Canonical(v), "v")
}

// osVersion derives the package-manager version string: "<version>-1"
// with any dirty-tree marker stripped, since the build server never
// publishes dirty builds under that name.
func osVersion(version string) string {
	if version == "" {
		return ""
	}
	v := strings.TrimSuffix(version, ".dirty")
	v = strings.TrimSuffix(v, "+dirty")
	return Canonical(v) + "-1"
}
