package provision

import "fmt"

// ResourceGroup is a provisioned resource container.
type ResourceGroup struct {
	Name     string
	Location string
}

// App is a provisioned function app bound to a hosting plan.
type App struct {
	Name      string
	InvokeURL string
	SCMURL    string
}

// Function is a single function deployed under an app.
type Function struct {
	Name      string
	InvokeURL string
}

// PublishTarget carries the deployment credentials the vendor hands out for
// an app's SCM surface.
type PublishTarget struct {
	SCMURL   string
	Username string
	Password string
}

// Binding is one trigger or output binding of a function.
type Binding struct {
	Type      string   `json:"type"`
	Direction string   `json:"direction"`
	Name      string   `json:"name"`
	AuthLevel string   `json:"authLevel,omitempty"`
	Methods   []string `json:"methods,omitempty"`
}

// FunctionConfig is the binding configuration PUT with a function.
type FunctionConfig struct {
	Bindings []Binding `json:"bindings"`
}

// DefaultHTTPConfig returns the binding set for an anonymous HTTP-triggered
// function answering GET and POST.
func DefaultHTTPConfig() FunctionConfig {
	return FunctionConfig{Bindings: []Binding{
		{Type: "httpTrigger", Direction: "in", Name: "req", AuthLevel: "anonymous", Methods: []string{"get", "post"}},
		{Type: "http", Direction: "out", Name: "res"},
	}}
}

// APIError is a decoded control-plane error response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provision: api error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provision: api error %d: %s", e.StatusCode, e.Message)
}

// wire payloads

type resourcePayload struct {
	Name       string             `json:"name,omitempty"`
	Location   string             `json:"location,omitempty"`
	SKU        *skuPayload        `json:"sku,omitempty"`
	Properties *propertiesPayload `json:"properties,omitempty"`
}

type skuPayload struct {
	Name string `json:"name"`
	Tier string `json:"tier"`
}

type propertiesPayload struct {
	ProvisioningState string          `json:"provisioningState,omitempty"`
	ServerFarmID      string          `json:"serverFarmId,omitempty"`
	HostURL           string          `json:"hostUrl,omitempty"`
	SCMURL            string          `json:"scmUrl,omitempty"`
	InvokeURL         string          `json:"invokeUrl,omitempty"`
	Config            *FunctionConfig `json:"config,omitempty"`
}

type publishCredsPayload struct {
	Properties struct {
		PublishingUserName string `json:"publishingUserName"`
		PublishingPassword string `json:"publishingPassword"`
		SCMURL             string `json:"scmUrl"`
	} `json:"properties"`
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type operationPayload struct {
	Status string `json:"status"`
}
