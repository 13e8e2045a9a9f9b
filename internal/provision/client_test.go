package provision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testCreds() Credentials {
	return Credentials{
		TenantID:       "test-tenant",
		ClientID:       "client-1",
		ClientSecret:   "s3cret",
		SubscriptionID: "sub-1",
	}
}

// newVendorServer wires a token endpoint for testCreds and routes every
// other request to api.
func newVendorServer(t *testing.T, api http.HandlerFunc) (*httptest.Server, Options) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/test-tenant/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") != "client-1" {
			http.Error(w, "bad grant", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/", api)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	opts := Options{
		BaseURL:      srv.URL,
		AuthURL:      srv.URL,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  2 * time.Second,
		Logf:         t.Logf,
	}
	return srv, opts
}

func newTestClient(t *testing.T, api http.HandlerFunc) *Client {
	t.Helper()
	_, opts := newVendorServer(t, api)
	client, err := NewClient(testCreds(), opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestNewClientRejectsIncompleteCredentials(t *testing.T) {
	creds := testCreds()
	creds.ClientSecret = ""
	_, err := NewClient(creds, Options{BaseURL: "http://x", AuthURL: "http://x"})
	if err == nil {
		t.Fatal("expected an error for missing client secret")
	}
	if !strings.Contains(err.Error(), "CLIENT_SECRET") {
		t.Fatalf("error %q should name the missing variable", err)
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("TENANT_ID", "ten")
	t.Setenv("CLIENT_ID", "cid")
	t.Setenv("CLIENT_SECRET", "sec")
	t.Setenv("SUBSCRIPTION_ID", "sub")

	creds, err := CredentialsFromEnv()
	if err != nil {
		t.Fatalf("CredentialsFromEnv: %v", err)
	}
	if creds.TenantID != "ten" || creds.ClientID != "cid" || creds.ClientSecret != "sec" || creds.SubscriptionID != "sub" {
		t.Fatalf("creds = %+v, fields not picked up from env", creds)
	}

	t.Setenv("SUBSCRIPTION_ID", "")
	if _, err := CredentialsFromEnv(); err == nil || !strings.Contains(err.Error(), "SUBSCRIPTION_ID") {
		t.Fatalf("err = %v, want a missing SUBSCRIPTION_ID error", err)
	}
}

func TestCreateResourceGroupSendsTokenAndAPIVersion(t *testing.T) {
	var sawAuth, sawVersion atomic.Value
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/subscriptions/sub-1/resourcegroups/rg-1" {
			http.NotFound(w, r)
			return
		}
		sawAuth.Store(r.Header.Get("Authorization"))
		sawVersion.Store(r.URL.Query().Get("api-version"))
		writeJSON(w, http.StatusCreated, `{"name":"rg-1","location":"westeurope"}`)
	})

	group, err := client.CreateResourceGroup(context.Background(), "rg-1", "westeurope")
	if err != nil {
		t.Fatalf("CreateResourceGroup: %v", err)
	}
	if group.Name != "rg-1" || group.Location != "westeurope" {
		t.Fatalf("group = %+v", group)
	}
	if got := sawAuth.Load(); got != "Bearer tok-123" {
		t.Fatalf("Authorization = %q, want the fetched bearer token", got)
	}
	if got := sawVersion.Load(); got != DefaultAPIVersion {
		t.Fatalf("api-version = %q, want %q", got, DefaultAPIVersion)
	}
}

func TestCreateAppWithPlanPollsUntilSucceeded(t *testing.T) {
	var planPolls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/plans/plan-1"):
			writeJSON(w, http.StatusCreated, `{"properties":{"provisioningState":"Accepted"}}`)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/plans/plan-1"):
			if planPolls.Add(1) < 3 {
				writeJSON(w, http.StatusOK, `{"properties":{"provisioningState":"Accepted"}}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"properties":{"provisioningState":"Succeeded"}}`)
		case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/sites/app-1"):
			var in resourcePayload
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Properties == nil || !strings.HasSuffix(in.Properties.ServerFarmID, "/plans/plan-1") {
				writeJSON(w, http.StatusBadRequest, `{"error":{"code":"BadSite","message":"site not bound to plan"}}`)
				return
			}
			writeJSON(w, http.StatusCreated, `{"properties":{"provisioningState":"Accepted"}}`)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/sites/app-1"):
			writeJSON(w, http.StatusOK, `{"properties":{"provisioningState":"Succeeded","hostUrl":"http://apps.local/app-1","scmUrl":"http://scm.local/app-1"}}`)
		default:
			http.NotFound(w, r)
		}
	})

	app, err := client.CreateAppWithPlan(context.Background(), "rg-1", "plan-1", "app-1", "westeurope")
	if err != nil {
		t.Fatalf("CreateAppWithPlan: %v", err)
	}
	if app.InvokeURL != "http://apps.local/app-1" || app.SCMURL != "http://scm.local/app-1" {
		t.Fatalf("app = %+v, URLs not taken from the site resource", app)
	}
	if got := planPolls.Load(); got < 3 {
		t.Fatalf("plan polled %d times, want the Accepted states to force repolling", got)
	}
}

func TestCreateAppWithPlanStopsOnFailedState(t *testing.T) {
	var planPolls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/plans/plan-1"):
			writeJSON(w, http.StatusCreated, `{"properties":{"provisioningState":"Accepted"}}`)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/plans/plan-1"):
			planPolls.Add(1)
			writeJSON(w, http.StatusOK, `{"properties":{"provisioningState":"Failed"}}`)
		default:
			http.NotFound(w, r)
		}
	})

	begin := time.Now()
	_, err := client.CreateAppWithPlan(context.Background(), "rg-1", "plan-1", "app-1", "westeurope")
	if err == nil {
		t.Fatal("expected an error for a Failed provisioning state")
	}
	if !strings.Contains(err.Error(), "Failed") {
		t.Fatalf("error %q should carry the terminal state", err)
	}
	if got := planPolls.Load(); got != 1 {
		t.Fatalf("plan polled %d times, a terminal state must not be retried", got)
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("failed create took %v, terminal states should return promptly", elapsed)
	}
}

func TestCreateFunctionUnderApp(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || !strings.HasSuffix(r.URL.Path, "/sites/app-1/functions/probe") {
			http.NotFound(w, r)
			return
		}
		var in resourcePayload
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Properties == nil || in.Properties.Config == nil || len(in.Properties.Config.Bindings) == 0 {
			writeJSON(w, http.StatusBadRequest, `{"error":{"code":"NoBindings","message":"function has no bindings"}}`)
			return
		}
		writeJSON(w, http.StatusCreated, `{"properties":{"invokeUrl":"http://apps.local/app-1/api/probe"}}`)
	})

	fn, err := client.CreateFunctionUnderApp(context.Background(), "rg-1", "app-1", "probe", DefaultHTTPConfig())
	if err != nil {
		t.Fatalf("CreateFunctionUnderApp: %v", err)
	}
	if fn.InvokeURL != "http://apps.local/app-1/api/probe" {
		t.Fatalf("fn = %+v", fn)
	}
}

func TestPublishingCredentials(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/sites/app-1/publishcredentials/list") {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, `{"properties":{"publishingUserName":"$app-1","publishingPassword":"hunter2","scmUrl":"http://scm.local/app-1"}}`)
	})

	target, err := client.PublishingCredentials(context.Background(), "rg-1", "app-1")
	if err != nil {
		t.Fatalf("PublishingCredentials: %v", err)
	}
	if target.Username != "$app-1" || target.Password != "hunter2" || target.SCMURL != "http://scm.local/app-1" {
		t.Fatalf("target = %+v", target)
	}
}

func TestDeleteResourceGroupPollsOperation(t *testing.T) {
	var opPolls atomic.Int32
	var srvURL string
	srv, opts := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/subscriptions/sub-1/resourcegroups/rg-1":
			w.Header().Set("Location", srvURL+"/operations/op-1")
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodGet && r.URL.Path == "/operations/op-1":
			if opPolls.Add(1) < 3 {
				writeJSON(w, http.StatusOK, `{"status":"InProgress"}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"status":"Succeeded"}`)
		default:
			http.NotFound(w, r)
		}
	})
	srvURL = srv.URL
	client, err := NewClient(testCreds(), opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := client.DeleteResourceGroup(context.Background(), "rg-1"); err != nil {
		t.Fatalf("DeleteResourceGroup: %v", err)
	}
	if got := opPolls.Load(); got < 3 {
		t.Fatalf("operation polled %d times, want polling until Succeeded", got)
	}
}

func TestDeleteResourceGroupAbsentIsSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error":{"code":"ResourceGroupNotFound","message":"no such group"}}`)
	})

	if err := client.DeleteResourceGroup(context.Background(), "rg-gone"); err != nil {
		t.Fatalf("deleting an absent group should succeed, got %v", err)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, `{"error":{"code":"AuthorizationFailed","message":"principal lacks access"}}`)
	})

	_, err := client.CreateResourceGroup(context.Background(), "rg-1", "westeurope")
	if err == nil {
		t.Fatal("expected an error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T should unwrap to *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Code != "AuthorizationFailed" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "principal lacks access") {
		t.Fatalf("message %q should carry the vendor text", apiErr.Error())
	}
}

func TestAPIErrorPlainBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway exploded", http.StatusBadGateway)
	})

	_, err := client.PublishingCredentials(context.Background(), "rg-1", "app-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v should be an *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || !strings.Contains(apiErr.Message, "gateway exploded") {
		t.Fatalf("apiErr = %+v, want the raw body as message", apiErr)
	}
}
