// Package azure provides the Azure Cost Management integration
package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
)

const managementScope = "https://management.azure.com/.default"

// Authorizer obtains a token credential for one integration
type Authorizer interface {
	Authorize(ctx context.Context, cfg integration.Config) (azcore.TokenCredential, error)
}

// ClientSecretAuthorizer authenticates as the service principal stored in
// the integration config.
type ClientSecretAuthorizer struct{}

// Authorize implements Authorizer
func (ClientSecretAuthorizer) Authorize(ctx context.Context, cfg integration.Config) (azcore.TokenCredential, error) {
	tenantID, _ := cfg.String("tenant_id")
	clientID, _ := cfg.String("client_id")
	secret, _ := cfg.String("client_secret")

	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, secret, nil)
	if err != nil {
		return nil, ferrors.Auth("failed to create credential", err)
	}

	if _, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{managementScope}}); err != nil {
		return nil, ferrors.Auth("failed to acquire management token", err)
	}

	return cred, nil
}
