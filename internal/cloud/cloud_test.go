package cloud

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/optimeist/optimeist/internal/install"
	"github.com/optimeist/optimeist/internal/log"
)

// === Mock SDK clients ===

type mockLambda struct {
	mock.Mock
}

func (m *mockLambda) ListFunctions(_ context.Context, in *lambda.ListFunctionsInput, _ ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error) {
	args := m.Called(aws.ToString(in.Marker))
	out, _ := args.Get(0).(*lambda.ListFunctionsOutput)
	return out, args.Error(1)
}

func (m *mockLambda) GetFunction(_ context.Context, in *lambda.GetFunctionInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	args := m.Called(aws.ToString(in.FunctionName))
	out, _ := args.Get(0).(*lambda.GetFunctionOutput)
	return out, args.Error(1)
}

func (m *mockLambda) UpdateFunctionConfiguration(_ context.Context, in *lambda.UpdateFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error) {
	args := m.Called(in)
	return &lambda.UpdateFunctionConfigurationOutput{}, args.Error(0)
}

type mockIAM struct {
	mock.Mock
}

func (m *mockIAM) PutRolePolicy(_ context.Context, in *iam.PutRolePolicyInput, _ ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error) {
	args := m.Called(aws.ToString(in.RoleName), aws.ToString(in.PolicyName), aws.ToString(in.PolicyDocument))
	return &iam.PutRolePolicyOutput{}, args.Error(0)
}

type mockSecrets struct {
	mock.Mock
}

func (m *mockSecrets) DescribeSecret(_ context.Context, in *secretsmanager.DescribeSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	args := m.Called(aws.ToString(in.SecretId))
	out, _ := args.Get(0).(*secretsmanager.DescribeSecretOutput)
	return out, args.Error(1)
}

func (m *mockSecrets) CreateSecret(_ context.Context, in *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	args := m.Called(aws.ToString(in.Name), aws.ToString(in.SecretString))
	out, _ := args.Get(0).(*secretsmanager.CreateSecretOutput)
	return out, args.Error(1)
}

func (m *mockSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(aws.ToString(in.SecretId))
	out, _ := args.Get(0).(*secretsmanager.GetSecretValueOutput)
	return out, args.Error(1)
}

type mockSSM struct {
	mock.Mock
}

func (m *mockSSM) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	args := m.Called(aws.ToString(in.Name), aws.ToString(in.Value), aws.ToBool(in.Overwrite))
	return &ssm.PutParameterOutput{}, args.Error(0)
}

// === Lambda ===

func TestFunctionRegistry_ListPassesMarker(t *testing.T) {
	api := &mockLambda{}
	api.On("ListFunctions", "").Return(&lambda.ListFunctionsOutput{
		Functions: []types.FunctionConfiguration{
			{FunctionName: aws.String("a"), FunctionArn: aws.String("arn:a"), LastModified: aws.String("2026-10-01")},
			{FunctionName: nil, FunctionArn: aws.String("arn:broken")},
		},
		NextMarker: aws.String("m2"),
	}, nil)
	api.On("ListFunctions", "m2").Return(&lambda.ListFunctionsOutput{
		Functions: []types.FunctionConfiguration{{FunctionName: aws.String("b"), FunctionArn: aws.String("arn:b")}},
	}, nil)

	reg := NewFunctionRegistry(api)
	page, next, err := reg.List(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "m2", next)
	require.Equal(t, []install.FunctionSummary{{Name: "a", ARN: "arn:a", LastModified: "2026-10-01"}}, page)

	page, next, err = reg.List(context.Background(), "m2")
	require.NoError(t, err)
	require.Empty(t, next)
	require.Len(t, page, 1)
}

func TestFunctionRegistry_DescribeMapsConfiguration(t *testing.T) {
	api := &mockLambda{}
	api.On("GetFunction", "orders").Return(&lambda.GetFunctionOutput{
		Configuration: &types.FunctionConfiguration{
			FunctionArn:   aws.String("arn:orders"),
			Role:          aws.String("arn:aws:iam::1:role/orders"),
			Architectures: []types.Architecture{types.ArchitectureArm64},
			MemorySize:    aws.Int32(256),
			Layers:        []types.Layer{{Arn: aws.String("arn:layer:optimeist-extension-arm64:1")}},
			Environment:   &types.EnvironmentResponse{Variables: map[string]string{"STAGE": "prod"}},
		},
	}, nil)

	fn, err := NewFunctionRegistry(api).Describe(context.Background(), "orders")
	require.NoError(t, err)
	require.Equal(t, "orders", fn.Name)
	require.Equal(t, "arn:orders", fn.ARN)
	require.Equal(t, "arm64", fn.Architecture)
	require.Equal(t, 256, fn.MemoryMB)
	require.Equal(t, []string{"arn:layer:optimeist-extension-arm64:1"}, fn.Layers)
	require.Equal(t, map[string]string{"STAGE": "prod"}, fn.Variables)
}

func TestFunctionRegistry_DescribeDefaultsToX86(t *testing.T) {
	api := &mockLambda{}
	api.On("GetFunction", "f").Return(&lambda.GetFunctionOutput{Configuration: &types.FunctionConfiguration{}}, nil)

	fn, err := NewFunctionRegistry(api).Describe(context.Background(), "f")
	require.NoError(t, err)
	require.Equal(t, "x86_64", fn.Architecture)
	require.NotNil(t, fn.Variables)
}

func TestFunctionRegistry_DescribeErrors(t *testing.T) {
	api := &mockLambda{}
	api.On("GetFunction", "gone").Return(nil, errors.New("ResourceNotFoundException"))
	api.On("GetFunction", "empty").Return(&lambda.GetFunctionOutput{}, nil)
	reg := NewFunctionRegistry(api)

	_, err := reg.Describe(context.Background(), "gone")
	require.ErrorContains(t, err, "get function gone")
	_, err = reg.Describe(context.Background(), "empty")
	require.ErrorContains(t, err, "no configuration")
}

func TestFunctionRegistry_UpdateAndUpdateMemory(t *testing.T) {
	api := &mockLambda{}
	api.On("UpdateFunctionConfiguration", mock.MatchedBy(func(in *lambda.UpdateFunctionConfigurationInput) bool {
		return aws.ToString(in.FunctionName) == "f" && in.MemorySize == nil &&
			len(in.Layers) == 1 && in.Environment != nil && in.Environment.Variables["K"] == "V"
	})).Return(nil).Once()
	api.On("UpdateFunctionConfiguration", mock.MatchedBy(func(in *lambda.UpdateFunctionConfigurationInput) bool {
		return aws.ToInt32(in.MemorySize) == 1024 && in.Layers == nil && in.Environment == nil
	})).Return(errors.New("TooManyRequests")).Once()

	reg := NewFunctionRegistry(api)
	require.NoError(t, reg.Update(context.Background(), "f", install.FunctionUpdate{
		Layers:    []string{"arn:layer"},
		Variables: map[string]string{"K": "V"},
	}))
	err := reg.UpdateMemory(context.Background(), "f", 1024)
	require.ErrorContains(t, err, "TooManyRequests")
	api.AssertExpectations(t)
}

// === IAM ===

func TestPolicyStore_AttachInlinePolicy(t *testing.T) {
	api := &mockIAM{}
	api.On("PutRolePolicy", "role", "OptimeistPolicy-f", `{"Version":"2012-10-17"}`).Return(nil)

	err := NewPolicyStore(api).AttachInlinePolicy(context.Background(), "role", "OptimeistPolicy-f", `{"Version":"2012-10-17"}`)
	require.NoError(t, err)
	api.AssertExpectations(t)
}

// === Secrets Manager ===

func TestSecretStore_ExistingSecret(t *testing.T) {
	api := &mockSecrets{}
	api.On("DescribeSecret", "optimeist-api-key").Return(&secretsmanager.DescribeSecretOutput{ARN: aws.String("arn:secret")}, nil)

	arn, err := NewSecretStore(api).GetOrCreate(context.Background(), "optimeist-api-key", func() (string, error) {
		t.Fatal("value must not be requested for an existing secret")
		return "", nil
	})
	require.NoError(t, err)
	require.Equal(t, "arn:secret", arn)
	api.AssertNotCalled(t, "CreateSecret", mock.Anything, mock.Anything)
}

func TestSecretStore_CreatesMissingSecret(t *testing.T) {
	log.InitWriter(io.Discard, false)
	api := &mockSecrets{}
	api.On("DescribeSecret", "optimeist-api-key").Return(nil, &smtypes.ResourceNotFoundException{Message: aws.String("nope")})
	api.On("CreateSecret", "optimeist-api-key", "key-1").Return(&secretsmanager.CreateSecretOutput{ARN: aws.String("arn:new")}, nil)

	arn, err := NewSecretStore(api).GetOrCreate(context.Background(), "optimeist-api-key", func() (string, error) {
		return "key-1", nil
	})
	require.NoError(t, err)
	require.Equal(t, "arn:new", arn)
}

func TestSecretStore_OtherDescribeErrorsAreReturned(t *testing.T) {
	api := &mockSecrets{}
	api.On("DescribeSecret", "s").Return(nil, errors.New("AccessDeniedException"))

	_, err := NewSecretStore(api).GetOrCreate(context.Background(), "s", func() (string, error) { return "x", nil })
	require.ErrorContains(t, err, "AccessDeniedException")
	api.AssertNotCalled(t, "CreateSecret", mock.Anything, mock.Anything)
}

func TestSecretStore_ValueFuncErrorStopsCreation(t *testing.T) {
	api := &mockSecrets{}
	api.On("DescribeSecret", "s").Return(nil, &smtypes.ResourceNotFoundException{})
	boom := errors.New("no key")

	_, err := NewSecretStore(api).GetOrCreate(context.Background(), "s", func() (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)
	api.AssertNotCalled(t, "CreateSecret", mock.Anything, mock.Anything)
}

func TestSecretStore_Value(t *testing.T) {
	api := &mockSecrets{}
	api.On("GetSecretValue", "arn:secret").Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String("token")}, nil)
	api.On("GetSecretValue", "arn:binary").Return(&secretsmanager.GetSecretValueOutput{SecretBinary: []byte{1}}, nil)
	store := NewSecretStore(api)

	v, err := store.Value(context.Background(), "arn:secret")
	require.NoError(t, err)
	require.Equal(t, "token", v)

	_, err = store.Value(context.Background(), "arn:binary")
	require.ErrorContains(t, err, "no string value")
}

// === SSM ===

func TestParameterStore_WriteParameter(t *testing.T) {
	api := &mockSSM{}
	api.On("PutParameter", "/optimeist/memory", "1024", true).Return(nil)
	store := NewParameterStore(api)

	require.NoError(t, store.WriteParameter(context.Background(), "/optimeist/memory", "1024"))
	require.NoError(t, store.WriteParameter(context.Background(), "", "1024"))
	api.AssertNumberOfCalls(t, "PutParameter", 1)
}

func TestFromConfig_BuildsEveryAdapter(t *testing.T) {
	c := FromConfig(aws.Config{Region: "eu-west-1"})
	require.Equal(t, "eu-west-1", c.Region)
	require.NotNil(t, c.Functions)
	require.NotNil(t, c.Policies)
	require.NotNil(t, c.Secrets)
	require.NotNil(t, c.Parameters)
}
