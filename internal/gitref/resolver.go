// Package gitref maps pushed git references onto bucket destinations.
package gitref

import (
	"fmt"
	"strings"

	"github.com/savaki/site-deployer/internal/errors"
)

// DefaultMainline is the branch whose pushes deploy to the bucket root.
const DefaultMainline = "main"

// Resolver resolves a fully qualified git reference (refs/heads/{branch}) to
// the deployment destination for that branch. Pushes to the mainline branch
// land at the bucket root; every other branch gets its own prefix.
type Resolver struct {
	mainline string
}

// New creates a Resolver. An empty mainline falls back to DefaultMainline.
func New(mainline string) *Resolver {
	if mainline == "" {
		mainline = DefaultMainline
	}
	return &Resolver{mainline: mainline}
}

// Mainline returns the configured mainline branch name.
func (r *Resolver) Mainline() string {
	return r.mainline
}

// ShortName extracts the branch short name from a fully qualified reference.
// The short name is everything after the second slash, so nested branch names
// survive intact: refs/heads/feature/login -> feature/login.
func (r *Resolver) ShortName(ref string) (string, error) {
	parts := strings.SplitN(ref, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("%w: %q, expected format: refs/heads/{branch}", errors.ErrMalformedReference, ref)
	}
	return parts[2], nil
}

// Resolve maps ref onto a destination under bucketBase. The mainline branch
// resolves to bucketBase itself; any other branch b resolves to
// bucketBase + "/" + b, which is injective in b for a fixed bucketBase.
func (r *Resolver) Resolve(ref, bucketBase string) (string, error) {
	short, err := r.ShortName(ref)
	if err != nil {
		return "", err
	}
	if short == r.mainline {
		return bucketBase, nil
	}
	return bucketBase + "/" + short, nil
}
