package app

import (
	"github.com/kart-io/version"
)

// GetVersion returns the git version stamped at build time.
func GetVersion() string {
	return version.Get().GitVersion
}

// GetVersionInfo returns the full version information.
func GetVersionInfo() version.Info {
	return version.Get()
}
