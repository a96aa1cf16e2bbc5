package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmTimeout bounds the parameter lookup at startup.
const ssmTimeout = 5 * time.Second

// ParameterGetter is the subset of the SSM client used to resolve secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// NewSSMClient creates an SSM client from the default AWS credential chain.
func NewSSMClient(ctx context.Context) (*ssm.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, ssmTimeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return ssm.NewFromConfig(awsCfg), nil
}

// ResolveAPIKey fills Upstream.APIKey from SSM when it is empty and
// Upstream.APIKeySSMParam is set. An explicit key always wins.
func (c *Config) ResolveAPIKey(ctx context.Context, getter ParameterGetter) error {
	if c.Upstream.APIKey != "" || c.Upstream.APIKeySSMParam == "" {
		return nil
	}
	if getter == nil {
		return fmt.Errorf("resolve %s: no parameter store client", c.Upstream.APIKeySSMParam)
	}

	ctx, cancel := context.WithTimeout(ctx, ssmTimeout)
	defer cancel()

	out, err := getter.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(c.Upstream.APIKeySSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("resolve %s: %w", c.Upstream.APIKeySSMParam, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return fmt.Errorf("resolve %s: parameter has no value", c.Upstream.APIKeySSMParam)
	}

	c.Upstream.APIKey = aws.ToString(out.Parameter.Value)
	return nil
}
