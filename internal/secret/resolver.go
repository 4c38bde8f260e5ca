// Package secret retrieves credentials from SSM Parameter Store or, in DEV_MODE, from the environment.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/jun/erpdrive/internal/errs"
)

// DefaultPrefix is the parameter path prefix used for relative secret names.
const DefaultPrefix = "/erpdrive"

// Secret names read at startup.
const (
	DrivePrivateKey  = "drive-private-key"
	JWTSecret        = "jwt-secret"
	APIGatewaySecret = "api-gateway-secret"
)

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by name. A missing secret is an errs.ErrConfiguration.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

type SSMResolver struct {
	client SSMClient
	prefix string
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
// Names without a leading slash are resolved under prefix.
func NewSSMResolver(client SSMClient, prefix string) *SSMResolver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SSMResolver{client: client, prefix: prefix}
}

func (r *SSMResolver) paramName(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return path.Join(r.prefix, name)
}

// GetSecret retrieves a SecureString parameter with decryption.
func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	param := r.paramName(name)
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *ssmtypes.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: ssm parameter %q not found", errs.ErrConfiguration, param)
		}
		return "", fmt.Errorf("ssm get parameter %q: %w", param, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("%w: ssm parameter %q has no value", errs.ErrConfiguration, param)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// EnvResolver reads secrets from environment variables named after the last path segment:
// "/erpdrive/drive-private-key" and "drive-private-key" both read DRIVE_PRIVATE_KEY.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	key := EnvName(name)
	val, _ := r.lookup(key)
	if val == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", errs.ErrConfiguration, key)
	}
	return val, nil
}

// EnvName converts a parameter name to its environment variable name.
func EnvName(name string) string {
	last := name[strings.LastIndex(name, "/")+1:]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}
