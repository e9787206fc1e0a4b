package app

import (
	"github.com/spf13/pflag"
)

// CliOptions is implemented by the options struct of a command.
type CliOptions interface {
	// Flags returns the flags grouped by concern.
	Flags() NamedFlagSets
	// Complete fills derived defaults after config and flags are loaded.
	Complete() error
	// Validate reports invalid options, usually as an aggregate.
	Validate() error
}

// NamedFlagSets keeps flag sets in registration order so help output
// prints one section per concern.
type NamedFlagSets struct {
	Order    []string
	FlagSets map[string]*pflag.FlagSet
}

// FlagSet returns the flag set for name, creating it on first use.
func (nfs *NamedFlagSets) FlagSet(name string) *pflag.FlagSet {
	if nfs.FlagSets == nil {
		nfs.FlagSets = make(map[string]*pflag.FlagSet)
	}
	if _, ok := nfs.FlagSets[name]; !ok {
		nfs.FlagSets[name] = pflag.NewFlagSet(name, pflag.ExitOnError)
		nfs.Order = append(nfs.Order, name)
	}
	return nfs.FlagSets[name]
}
