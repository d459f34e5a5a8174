package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// ParameterGetter is the SSM call LoadSecrets needs.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadSecrets fills FalKey and GeminiAPIKey from SSM Parameter Store when
// they are not already set. The Gemini key is only fetched when the Gemini
// edit provider is selected. Only parameter paths are logged.
func (c *Config) LoadSecrets(ctx context.Context, client ParameterGetter) error {
	if c.FalKey == "" {
		v, err := getSecret(ctx, client, c.FalKeyParam)
		if err != nil {
			return err
		}
		c.FalKey = v
	}
	if c.EditProvider == EditProviderGemini && c.GeminiAPIKey == "" {
		v, err := getSecret(ctx, client, c.GeminiKeyParam)
		if err != nil {
			return err
		}
		c.GeminiAPIKey = v
	}
	return nil
}

func getSecret(ctx context.Context, client ParameterGetter, name string) (string, error) {
	start := time.Now()
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read %s from SSM: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", name)
	}
	log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return *out.Parameter.Value, nil
}
