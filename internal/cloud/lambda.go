package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/optimeist/optimeist/internal/install"
)

// LambdaAPI is the subset of the Lambda client used here.
type LambdaAPI interface {
	ListFunctions(ctx context.Context, in *lambda.ListFunctionsInput, opts ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error)
	GetFunction(ctx context.Context, in *lambda.GetFunctionInput, opts ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	UpdateFunctionConfiguration(ctx context.Context, in *lambda.UpdateFunctionConfigurationInput, opts ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error)
}

// FunctionRegistry implements install.Registry and updater.MemoryUpdater.
type FunctionRegistry struct {
	api LambdaAPI
}

// NewFunctionRegistry wraps api.
func NewFunctionRegistry(api LambdaAPI) *FunctionRegistry {
	return &FunctionRegistry{api: api}
}

// List returns one page of functions.
func (r *FunctionRegistry) List(ctx context.Context, cursor string) ([]install.FunctionSummary, string, error) {
	in := &lambda.ListFunctionsInput{}
	if cursor != "" {
		in.Marker = aws.String(cursor)
	}
	out, err := r.api.ListFunctions(ctx, in)
	if err != nil {
		return nil, "", fmt.Errorf("list functions: %w", err)
	}

	page := make([]install.FunctionSummary, 0, len(out.Functions))
	for _, fc := range out.Functions {
		if fc.FunctionName == nil || fc.FunctionArn == nil {
			continue
		}
		page = append(page, install.FunctionSummary{
			Name:         aws.ToString(fc.FunctionName),
			ARN:          aws.ToString(fc.FunctionArn),
			LastModified: aws.ToString(fc.LastModified),
		})
	}
	return page, aws.ToString(out.NextMarker), nil
}

// Describe fetches the full configuration of one function.
func (r *FunctionRegistry) Describe(ctx context.Context, name string) (install.Function, error) {
	out, err := r.api.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
	if err != nil {
		return install.Function{}, fmt.Errorf("get function %s: %w", name, err)
	}
	if out.Configuration == nil {
		return install.Function{}, fmt.Errorf("get function %s: no configuration returned", name)
	}
	return toFunction(name, out.Configuration), nil
}

func toFunction(name string, c *types.FunctionConfiguration) install.Function {
	fn := install.Function{
		Name:         name,
		ARN:          aws.ToString(c.FunctionArn),
		Role:         aws.ToString(c.Role),
		Architecture: string(types.ArchitectureX8664),
		Runtime:      string(c.Runtime),
		MemoryMB:     int(aws.ToInt32(c.MemorySize)),
		LastModified: aws.ToString(c.LastModified),
		Variables:    map[string]string{},
	}
	if len(c.Architectures) > 0 {
		fn.Architecture = string(c.Architectures[0])
	}
	for _, l := range c.Layers {
		if l.Arn != nil {
			fn.Layers = append(fn.Layers, aws.ToString(l.Arn))
		}
	}
	if c.Environment != nil {
		for k, v := range c.Environment.Variables {
			fn.Variables[k] = v
		}
	}
	return fn
}

// Update replaces the function's layers and environment.
func (r *FunctionRegistry) Update(ctx context.Context, name string, u install.FunctionUpdate) error {
	_, err := r.api.UpdateFunctionConfiguration(ctx, &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(name),
		Layers:       u.Layers,
		Environment:  &types.Environment{Variables: u.Variables},
	})
	if err != nil {
		return fmt.Errorf("update function configuration %s: %w", name, err)
	}
	return nil
}

// UpdateMemory sets the function's memory size.
func (r *FunctionRegistry) UpdateMemory(ctx context.Context, name string, memoryMB int) error {
	_, err := r.api.UpdateFunctionConfiguration(ctx, &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(name),
		MemorySize:   aws.Int32(int32(memoryMB)), // #nosec G115 -- Lambda caps memory at 10240 MB
	})
	if err != nil {
		return fmt.Errorf("update memory of %s to %d MB: %w", name, memoryMB, err)
	}
	return nil
}

// FunctionARN resolves the ARN of a function by name.
func (r *FunctionRegistry) FunctionARN(ctx context.Context, name string) (string, error) {
	fn, err := r.Describe(ctx, name)
	if err != nil {
		return "", err
	}
	return fn.ARN, nil
}
