// Package install lists Lambda functions and installs the optimeist
// extension on them. Remote services are reached through the Registry,
// SecretStore and PolicyStore interfaces.
package install

import (
	"context"
	"strings"
)

// SecretARNVariable is the environment variable the extension reads its
// access token secret from.
const SecretARNVariable = "OPTIMEIST_ACCESS_TOKEN_SECRET_ARN"

const layerMarker = "optimeist"

// FunctionSummary is one entry of a list page.
type FunctionSummary struct {
	Name         string
	ARN          string
	LastModified string
}

// Function is a described Lambda function as shown in the selection list.
type Function struct {
	Name         string
	ARN          string
	Role         string
	Architecture string
	Runtime      string
	MemoryMB     int
	LastModified string
	Layers       []string
	Variables    map[string]string

	Installed bool
	Selected  bool
}

// HasExtension reports whether any attached layer is an optimeist layer.
func HasExtension(layers []string) bool {
	for _, arn := range layers {
		if strings.Contains(arn, layerMarker) {
			return true
		}
	}
	return false
}

// FunctionUpdate is the configuration applied by an install.
type FunctionUpdate struct {
	Layers    []string
	Variables map[string]string
}

// Registry reads and updates function configuration.
type Registry interface {
	// List returns one page of functions and the cursor of the next page,
	// empty when there are no more pages.
	List(ctx context.Context, cursor string) ([]FunctionSummary, string, error)
	Describe(ctx context.Context, name string) (Function, error)
	Update(ctx context.Context, name string, update FunctionUpdate) error
}

// SecretStore holds the optimeist access token.
type SecretStore interface {
	// GetOrCreate returns the ARN of the named secret, creating it with the
	// string returned by value when it does not exist yet.
	GetOrCreate(ctx context.Context, name string, value func() (string, error)) (string, error)
}

// PolicyStore attaches IAM inline policies.
type PolicyStore interface {
	AttachInlinePolicy(ctx context.Context, role, name, document string) error
}
