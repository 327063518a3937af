package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// NamedFlagSetOptions is implemented by a command's option set.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section for usage output.
	Flags() cliflag.NamedFlagSets

	// Complete fills in fields that depend on other fields.
	Complete() error

	// Validate returns an aggregate of every invalid option.
	Validate() error
}
