package providers

import (
	"github.com/lvonguyen/cloudspend/internal/integration"
	"github.com/lvonguyen/cloudspend/internal/providers/aws"
	"github.com/lvonguyen/cloudspend/internal/providers/azure"
	"github.com/lvonguyen/cloudspend/internal/providers/gcp"
)

// NewDefaultRegistry wires the shipped adapters with their production authorizers.
func NewDefaultRegistry() *Registry {
	awsAuth := aws.AssumeRoleAuthorizer{}

	return NewRegistry().
		Register(integration.ProviderAWS, integration.TypeObjectStorageExport, aws.NewCURAdapter(awsAuth)).
		Register(integration.ProviderAWS, integration.TypeCostAPI, aws.NewCostExplorerAdapter(awsAuth)).
		Register(integration.ProviderGCP, integration.TypeWarehouseExport, gcp.NewExportAdapter(gcp.OAuthAuthorizer{})).
		Register(integration.ProviderAzure, integration.TypeCostAPI, azure.NewUsageAdapter(azure.ClientSecretAuthorizer{}))
}
