// Package cloud adapts the AWS SDK clients to the narrow interfaces the
// installer and the extension depend on.
package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Clients bundles every adapter built from one AWS configuration.
type Clients struct {
	Region     string
	Functions  *FunctionRegistry
	Policies   *PolicyStore
	Secrets    *SecretStore
	Parameters *ParameterStore
}

// Load resolves credentials from the default chain. An empty region uses
// the region of the environment or shared config.
func Load(ctx context.Context, region string) (*Clients, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("no AWS region configured: set region in the config file or AWS_REGION")
	}
	return FromConfig(cfg), nil
}

// FromConfig builds adapters from an existing SDK configuration.
func FromConfig(cfg aws.Config) *Clients {
	return &Clients{
		Region:     cfg.Region,
		Functions:  NewFunctionRegistry(lambda.NewFromConfig(cfg)),
		Policies:   NewPolicyStore(iam.NewFromConfig(cfg)),
		Secrets:    NewSecretStore(secretsmanager.NewFromConfig(cfg)),
		Parameters: NewParameterStore(ssm.NewFromConfig(cfg)),
	}
}
