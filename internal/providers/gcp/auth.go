// Package gcp provides the GCP billing export integration
package gcp

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/bigquery"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/integration"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Warehouse runs a parameterized query against the billing export
type Warehouse interface {
	Rows(ctx context.Context, sql string, params []bigquery.QueryParameter) (RowIterator, error)
	Close() error
}

// RowIterator is satisfied by *bigquery.RowIterator
type RowIterator interface {
	Next(dst interface{}) error
}

// Authorizer turns an integration's stored OAuth grant into a warehouse
// client scoped to its project. The client lives for one Fetch.
type Authorizer interface {
	Authorize(ctx context.Context, cfg integration.Config) (Warehouse, error)
}

// OAuthAuthorizer builds user credentials from the integration's "oauth" object.
type OAuthAuthorizer struct{}

// Authorize implements Authorizer
func (OAuthAuthorizer) Authorize(ctx context.Context, cfg integration.Config) (Warehouse, error) {
	stored, ok := cfg.Object("oauth")
	if !ok {
		return nil, ferrors.Config("missing required config keys: oauth").WithContext("keys", []string{"oauth"})
	}

	grant := map[string]any{"type": "authorized_user"}
	for k, v := range stored {
		grant[k] = v
	}
	data, err := json.Marshal(grant)
	if err != nil {
		return nil, ferrors.Auth("failed to encode oauth grant", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope)
	if err != nil {
		return nil, ferrors.Auth("failed to build oauth credentials", err)
	}
	if _, err := creds.TokenSource.Token(); err != nil {
		return nil, ferrors.Auth("failed to refresh oauth token", err)
	}

	projectID, _ := cfg.String("project_id")
	client, err := bigquery.NewClient(ctx, projectID, option.WithCredentials(creds))
	if err != nil {
		return nil, ferrors.Auth("failed to create bigquery client", err)
	}

	return &bigQueryWarehouse{client: client}, nil
}

type bigQueryWarehouse struct {
	client *bigquery.Client
}

func (w *bigQueryWarehouse) Rows(ctx context.Context, sql string, params []bigquery.QueryParameter) (RowIterator, error) {
	q := w.client.Query(sql)
	q.Parameters = params
	return q.Read(ctx)
}

func (w *bigQueryWarehouse) Close() error {
	return w.client.Close()
}
