// SPDX-License-Identifier: MIT
package loader

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"hotswap/internal/abi"
)

// DefaultABIConstraint accepts any 1.x module.
const DefaultABIConstraint = "~1"

// CheckABI reports whether a packed module ABI version satisfies constraint.
// An empty constraint accepts modules whose major version matches the host.
func CheckABI(version uint32, constraint string) error {
	if constraint == "" {
		constraint = fmt.Sprintf("~%d", (abi.Version>>16)&0xFF)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid ABI constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(abi.VersionString(version))
	if err != nil {
		return fmt.Errorf("%w: malformed version %#x", ErrIncompatibleABI, version)
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: module %s does not satisfy %s", ErrIncompatibleABI, v, constraint)
	}
	return nil
}
