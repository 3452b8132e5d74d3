package azure

import (
	"context"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
)

const (
	clientName    = "armcostmanagement.QueryClient"
	moduleVersion = "v1.1.1"
)

// QueryAPI runs a cost query and follows its continuation links
type QueryAPI interface {
	Usage(ctx context.Context, scope string, def armcostmanagement.QueryDefinition) (armcostmanagement.QueryResult, error)
	Next(ctx context.Context, nextLink string, def armcostmanagement.QueryDefinition) (armcostmanagement.QueryResult, error)
}

// queryClient uses the generated client for the first page. The generated
// client has no pager for query results, so continuation pages are posted
// to nextLink through an ARM pipeline with the same credential.
type queryClient struct {
	query    *armcostmanagement.QueryClient
	pipeline runtime.Pipeline
}

func newQueryClient(cred azcore.TokenCredential) (QueryAPI, error) {
	query, err := armcostmanagement.NewQueryClient(cred, nil)
	if err != nil {
		return nil, err
	}
	client, err := arm.NewClient(clientName, moduleVersion, cred, nil)
	if err != nil {
		return nil, err
	}
	return &queryClient{query: query, pipeline: client.Pipeline()}, nil
}

func (c *queryClient) Usage(ctx context.Context, scope string, def armcostmanagement.QueryDefinition) (armcostmanagement.QueryResult, error) {
	resp, err := c.query.Usage(ctx, scope, def, nil)
	if err != nil {
		return armcostmanagement.QueryResult{}, err
	}
	return resp.QueryResult, nil
}

func (c *queryClient) Next(ctx context.Context, nextLink string, def armcostmanagement.QueryDefinition) (armcostmanagement.QueryResult, error) {
	var result armcostmanagement.QueryResult

	req, err := runtime.NewRequest(ctx, http.MethodPost, nextLink)
	if err != nil {
		return result, err
	}
	if err := runtime.MarshalAsJSON(req, def); err != nil {
		return result, err
	}

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return result, err
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return result, runtime.NewResponseError(resp)
	}
	if err := runtime.UnmarshalAsJSON(resp, &result); err != nil {
		return result, err
	}
	return result, nil
}
