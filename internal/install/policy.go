package install

import (
	"encoding/json"
	"fmt"
)

// PolicyDocument is an IAM policy.
type PolicyDocument struct {
	Version   string            `json:"Version"`
	Statement []PolicyStatement `json:"Statement"`
}

// PolicyStatement is one IAM policy statement.
type PolicyStatement struct {
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource string   `json:"Resource"`
}

// FunctionPolicy grants the extension what it needs at runtime: reading and
// resizing its own function and reading the access token secret.
func FunctionPolicy(functionARN, secretARN string) PolicyDocument {
	return PolicyDocument{
		Version: "2012-10-17",
		Statement: []PolicyStatement{
			{
				Effect:   "Allow",
				Action:   []string{"lambda:GetFunction", "lambda:UpdateFunctionConfiguration"},
				Resource: functionARN,
			},
			{
				Effect:   "Allow",
				Action:   []string{"secretsmanager:DescribeSecret", "secretsmanager:GetSecretValue"},
				Resource: secretARN,
			},
		},
	}
}

// JSON renders the document for the IAM API.
func (d PolicyDocument) JSON() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encoding policy document: %w", err)
	}
	return string(b), nil
}
