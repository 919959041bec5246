package install

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/optimeist/optimeist/internal/config"
	"github.com/optimeist/optimeist/internal/log"
	"github.com/optimeist/optimeist/internal/tracing"
)

var (
	// ErrInvalidRole is returned when a function's role ARN has no name segment.
	ErrInvalidRole = errors.New("invalid role ARN")
	// ErrMissingAPIKey is returned when the secret must be created but no API key is set.
	ErrMissingAPIKey = errors.New("optimeist API key is not set")
)

// InstallerConfig configures an Installer.
type InstallerConfig struct {
	Registry     Registry
	Policies     PolicyStore
	Layers       config.LayerTable
	Region       string
	SecretARN    string
	PolicyPrefix string
	Tracer       trace.Tracer
}

// Installer installs the extension on one function at a time. Calls for
// different functions are independent and may run concurrently.
type Installer struct {
	cfg InstallerConfig
}

// NewInstaller creates an Installer.
func NewInstaller(cfg InstallerConfig) *Installer {
	if cfg.PolicyPrefix == "" {
		cfg.PolicyPrefix = "OptimeistPolicy-"
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("install")
	}
	return &Installer{cfg: cfg}
}

// Install grants the function's role the extension policy and attaches the
// region's extension layer with the secret ARN in the environment.
func (i *Installer) Install(ctx context.Context, fn Function) (err error) {
	ctx, span := i.cfg.Tracer.Start(ctx, tracing.SpanInstallUnit, trace.WithAttributes(
		attribute.String(tracing.AttrFunctionName, fn.Name),
		attribute.String(tracing.AttrFunctionARN, fn.ARN),
		attribute.String(tracing.AttrRegion, i.cfg.Region),
	))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	layer, err := i.cfg.Layers.Resolve(i.cfg.Region, fn.Architecture)
	if err != nil {
		return err
	}

	role := RoleName(fn.Role)
	if role == "" {
		return fmt.Errorf("%w: %q", ErrInvalidRole, fn.Role)
	}

	doc, err := FunctionPolicy(fn.ARN, i.cfg.SecretARN).JSON()
	if err != nil {
		return err
	}
	policyName := i.cfg.PolicyPrefix + fn.Name
	if err := i.cfg.Policies.AttachInlinePolicy(ctx, role, policyName, doc); err != nil {
		return fmt.Errorf("attaching policy %s to role %s: %w", policyName, role, err)
	}

	update := FunctionUpdate{
		Layers:    replaceExtensionLayer(fn.Layers, layer),
		Variables: withSecretVariable(fn.Variables, i.cfg.SecretARN),
	}
	if err := i.cfg.Registry.Update(ctx, fn.Name, update); err != nil {
		return fmt.Errorf("updating function %s: %w", fn.Name, err)
	}

	log.Info(log.CatInstall, "extension installed", "function", fn.Name, "layer", layer, "role", role)
	return nil
}

// RoleName returns the last path segment of a role ARN.
func RoleName(roleARN string) string {
	idx := strings.LastIndex(roleARN, "/")
	return roleARN[idx+1:]
}

// replaceExtensionLayer keeps every non-optimeist layer in order and appends layer.
func replaceExtensionLayer(existing []string, layer string) []string {
	out := make([]string, 0, len(existing)+1)
	for _, arn := range existing {
		if strings.Contains(arn, layerMarker) {
			continue
		}
		out = append(out, arn)
	}
	return append(out, layer)
}

func withSecretVariable(vars map[string]string, secretARN string) map[string]string {
	out := make(map[string]string, len(vars)+1)
	maps.Copy(out, vars)
	out[SecretARNVariable] = secretARN
	return out
}

// EnsureSecret returns the ARN of the access token secret, creating it from
// the API key returned by lookup(apiKeyEnv) when it does not exist.
func EnsureSecret(ctx context.Context, store SecretStore, name, apiKeyEnv string, lookup func(string) (string, bool)) (string, error) {
	arn, err := store.GetOrCreate(ctx, name, func() (string, error) {
		key, ok := lookup(apiKeyEnv)
		if !ok || strings.TrimSpace(key) == "" {
			return "", fmt.Errorf("%w: export %s to create secret %s", ErrMissingAPIKey, apiKeyEnv, name)
		}
		return key, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolving secret %s: %w", name, err)
	}
	log.Info(log.CatInstall, "access token secret ready", "secret", name, "arn", arn)
	return arn, nil
}
