// Package aws provides AWS billing integrations
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
)

const (
	// DefaultRegion is used when an integration does not name one
	DefaultRegion = "us-east-1"

	defaultSessionName = "cloudspend-cur-import"
)

// Authorizer obtains an AWS configuration carrying credentials for one
// integration. The result is used for a single Fetch and then dropped.
type Authorizer interface {
	Authorize(ctx context.Context, cfg integration.Config) (aws.Config, error)
}

// AssumeRoleAuthorizer loads the ambient AWS configuration and, when the
// integration names a role, assumes it through STS.
type AssumeRoleAuthorizer struct {
	SessionName string
}

// Authorize implements Authorizer
func (a AssumeRoleAuthorizer) Authorize(ctx context.Context, cfg integration.Config) (aws.Config, error) {
	region := cfg.StringOr("region", DefaultRegion)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return aws.Config{}, ferrors.Auth("failed to load AWS config", err)
	}

	roleARN, ok := cfg.String("role_arn")
	if !ok {
		return awsCfg, nil
	}

	sessionName := a.SessionName
	if sessionName == "" {
		sessionName = defaultSessionName
	}
	externalID, _ := cfg.String("external_id")

	stsClient := sts.NewFromConfig(awsCfg)
	creds := stscreds.NewAssumeRoleProvider(stsClient, roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = sessionName
		if externalID != "" {
			o.ExternalID = aws.String(externalID)
		}
	})
	awsCfg.Credentials = aws.NewCredentialsCache(creds)

	// Resolve now so a rejected role surfaces as an auth failure, not as a
	// transport failure on the first billing call.
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return aws.Config{}, ferrors.Auth("failed to assume role "+roleARN, err)
	}

	return awsCfg, nil
}
