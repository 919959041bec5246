package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
)

// IAMAPI is the subset of the IAM client used here.
type IAMAPI interface {
	PutRolePolicy(ctx context.Context, in *iam.PutRolePolicyInput, opts ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
}

// PolicyStore implements install.PolicyStore.
type PolicyStore struct {
	api IAMAPI
}

// NewPolicyStore wraps api.
func NewPolicyStore(api IAMAPI) *PolicyStore {
	return &PolicyStore{api: api}
}

// AttachInlinePolicy creates or replaces the named inline policy on role.
func (s *PolicyStore) AttachInlinePolicy(ctx context.Context, role, name, document string) error {
	_, err := s.api.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(role),
		PolicyName:     aws.String(name),
		PolicyDocument: aws.String(document),
	})
	if err != nil {
		return fmt.Errorf("put role policy %s on %s: %w", name, role, err)
	}
	return nil
}
