package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSMAPI is the subset of the SSM client used here.
type SSMAPI interface {
	PutParameter(ctx context.Context, in *ssm.PutParameterInput, opts ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// ParameterStore implements updater.ParameterWriter.
type ParameterStore struct {
	api SSMAPI
}

// NewParameterStore wraps api.
func NewParameterStore(api SSMAPI) *ParameterStore {
	return &ParameterStore{api: api}
}

// WriteParameter creates or overwrites a parameter. An empty name is a no-op.
func (s *ParameterStore) WriteParameter(ctx context.Context, name, value string) error {
	if name == "" {
		return nil
	}
	_, err := s.api.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("put parameter %s: %w", name, err)
	}
	return nil
}
