// Package extension runs optimeist inside a Lambda execution environment:
// it registers with the Extensions API, receives platform telemetry and
// keeps the periodic memory updater alive until the sandbox shuts down.
package extension

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/optimeist/optimeist/internal/apiclient"
)

// Environment variable names read at startup.
const (
	EnvSecretARN       = "OPTIMEIST_ACCESS_TOKEN_SECRET_ARN"
	EnvStrategy        = "OPTIMEIST_DECISION_ALGORITHM_TYPE"
	EnvParameterName   = "OPTIMEIST_MEMORY_PARAMETER_NAME"
	EnvFunctionName    = "AWS_LAMBDA_FUNCTION_NAME"
	EnvFunctionVersion = "AWS_LAMBDA_FUNCTION_VERSION"
	EnvMemorySize      = "AWS_LAMBDA_FUNCTION_MEMORY_SIZE"
	EnvRegion          = "AWS_REGION"
	EnvRuntimeAPI      = "AWS_LAMBDA_RUNTIME_API"
)

// Strategy selects how the service trades cost against speed.
type Strategy string

const (
	StrategyCost     Strategy = "COST"
	StrategySpeed    Strategy = "SPEED"
	StrategyBalanced Strategy = "BALANCED"
)

// ParseStrategy is case-insensitive. Unknown or empty values are BALANCED.
func ParseStrategy(s string) Strategy {
	switch Strategy(strings.ToUpper(strings.TrimSpace(s))) {
	case StrategyCost:
		return StrategyCost
	case StrategySpeed:
		return StrategySpeed
	default:
		return StrategyBalanced
	}
}

func (s Strategy) String() string { return string(s) }

// Environment describes the function the extension runs alongside.
type Environment struct {
	Name          string
	ARN           string
	Region        string
	Version       string
	MemorySizeMB  int
	Strategy      Strategy
	ParameterName string
	RuntimeAPI    string

	SecretARN   string
	AccessToken string
}

// LoadEnvironment reads the process environment through v. ARN and
// AccessToken stay empty until Resolve.
func LoadEnvironment(v *viper.Viper) (Environment, error) {
	v.AutomaticEnv()

	required := func(key string) (string, error) {
		val := strings.TrimSpace(v.GetString(key))
		if val == "" {
			return "", fmt.Errorf("%s is not set", key)
		}
		return val, nil
	}

	var env Environment
	var err error
	if env.SecretARN, err = required(EnvSecretARN); err != nil {
		return Environment{}, err
	}
	if env.Name, err = required(EnvFunctionName); err != nil {
		return Environment{}, err
	}
	if env.Region, err = required(EnvRegion); err != nil {
		return Environment{}, err
	}
	if env.Version, err = required(EnvFunctionVersion); err != nil {
		return Environment{}, err
	}
	if env.RuntimeAPI, err = required(EnvRuntimeAPI); err != nil {
		return Environment{}, err
	}

	raw, err := required(EnvMemorySize)
	if err != nil {
		return Environment{}, err
	}
	if env.MemorySizeMB, err = strconv.Atoi(raw); err != nil {
		return Environment{}, fmt.Errorf("%s must be an integer, got %q: %w", EnvMemorySize, raw, err)
	}

	env.Strategy = ParseStrategy(v.GetString(EnvStrategy))
	env.ParameterName = strings.TrimSpace(v.GetString(EnvParameterName))
	return env, nil
}

// SecretReader returns a secret's string value.
type SecretReader interface {
	Value(ctx context.Context, id string) (string, error)
}

// ARNResolver looks up a function's ARN by name.
type ARNResolver interface {
	FunctionARN(ctx context.Context, name string) (string, error)
}

// Resolve fills the access token and the function ARN.
func (e Environment) Resolve(ctx context.Context, secrets SecretReader, functions ARNResolver) (Environment, error) {
	token, err := secrets.Value(ctx, e.SecretARN)
	if err != nil {
		return Environment{}, fmt.Errorf("failed to get access token secret value: %w", err)
	}
	arn, err := functions.FunctionARN(ctx, e.Name)
	if err != nil {
		return Environment{}, fmt.Errorf("failed to get function details: %w", err)
	}
	e.AccessToken = token
	e.ARN = arn
	return e, nil
}

// Query is the recommendation query for this function.
func (e Environment) Query() apiclient.Query {
	return apiclient.Query{
		Name:     e.Name,
		Region:   e.Region,
		Version:  e.Version,
		Strategy: e.Strategy.String(),
		ARN:      e.ARN,
	}
}

// Meta is the function description attached to collected metrics.
func (e Environment) Meta() apiclient.Meta {
	return apiclient.Meta{
		ARN:          e.ARN,
		Region:       e.Region,
		Version:      e.Version,
		Name:         e.Name,
		MemorySizeMB: e.MemorySizeMB,
		Strategy:     e.Strategy.String(),
	}
}
