// Package integration describes configured tenant connections to provider billing data.
package integration

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
)

// Provider is a cloud provider
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderGCP   Provider = "gcp"
	ProviderAzure Provider = "azure"
)

// Type is the transport an integration pulls billing data through
type Type string

const (
	TypeObjectStorageExport Type = "object-storage-export"
	TypeWarehouseExport     Type = "warehouse-export"
	TypeCostAPI             Type = "cost-api"
)

// typeAliases maps the identifiers written by older tenant administration
// screens onto the canonical types.
var typeAliases = map[string]Type{
	"s3_cur":    TypeObjectStorageExport,
	"bq_export": TypeWarehouseExport,
	"cost_api":  TypeCostAPI,
}

// ParseProvider normalizes a stored provider string. Unknown values are
// returned as-is so the dispatcher can report them.
func ParseProvider(s string) Provider {
	return Provider(strings.ToLower(strings.TrimSpace(s)))
}

// ParseType normalizes a stored integration type string.
func ParseType(s string) Type {
	s = strings.ToLower(strings.TrimSpace(s))
	if t, ok := typeAliases[s]; ok {
		return t
	}
	return Type(s)
}

// Integration is one row of the integration directory
type Integration struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Type     Type      `json:"type"`
	Provider Provider  `json:"provider"`
	Config   Config    `json:"config"`
}

// Config is the opaque per-integration settings blob
type Config map[string]any

// String returns the value at key rendered as a string, and whether it was set.
func (c Config) String(key string) (string, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return fmt.Sprint(t), true
	}
}

// StringOr returns the value at key or fallback when unset.
func (c Config) StringOr(key, fallback string) string {
	if s, ok := c.String(key); ok {
		return s
	}
	return fallback
}

// IntOr returns the value at key as an int or fallback when unset or not numeric.
func (c Config) IntOr(key string, fallback int) int {
	s, ok := c.String(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// Object returns a nested object at key.
func (c Config) Object(key string) (map[string]any, bool) {
	switch t := c[key].(type) {
	case map[string]any:
		return t, true
	case Config:
		return t, true
	case string:
		// some tenants store the object JSON-encoded
		var m map[string]any
		if err := json.Unmarshal([]byte(t), &m); err == nil {
			return m, true
		}
	}
	return nil, false
}

// Require returns a config error listing every key that is missing or empty.
func (c Config) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := c[k].(map[string]any); ok {
			continue
		}
		if _, ok := c.String(k); !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return ferrors.Config("missing required config keys: " + strings.Join(missing, ", ")).
		WithContext("keys", missing)
}
