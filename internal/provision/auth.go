package provision

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Credentials identifies the service principal and subscription the probe
// provisions under.
type Credentials struct {
	TenantID       string
	ClientID       string
	ClientSecret   string
	SubscriptionID string
}

// CredentialsFromEnv reads CLIENT_ID, CLIENT_SECRET, TENANT_ID and
// SUBSCRIPTION_ID from the environment. All four must be set.
func CredentialsFromEnv() (Credentials, error) {
	creds := Credentials{
		TenantID:       os.Getenv("TENANT_ID"),
		ClientID:       os.Getenv("CLIENT_ID"),
		ClientSecret:   os.Getenv("CLIENT_SECRET"),
		SubscriptionID: os.Getenv("SUBSCRIPTION_ID"),
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Validate reports which credential fields are missing, named by their
// environment variables.
func (c Credentials) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if c.TenantID == "" {
		missing = append(missing, "TENANT_ID")
	}
	if c.SubscriptionID == "" {
		missing = append(missing, "SUBSCRIPTION_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("provision: missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// authClient builds an HTTP client that fetches bearer tokens through the
// client-credentials grant and injects them into every request. The token
// endpoint lives under the tenant: {auth}/{tenant}/oauth2/token.
func authClient(creds Credentials, authURL, resource string, base *http.Client) *http.Client {
	cc := &clientcredentials.Config{
		ClientID:       creds.ClientID,
		ClientSecret:   creds.ClientSecret,
		TokenURL:       strings.TrimSuffix(authURL, "/") + "/" + creds.TenantID + "/oauth2/token",
		EndpointParams: url.Values{"resource": {resource}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	hc := cc.Client(ctx)
	hc.Timeout = requestTimeout
	return hc
}
