package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/control-theory/logprobe/internal/deploy"
	"github.com/control-theory/logprobe/internal/logstream"
	"github.com/control-theory/logprobe/internal/probe"
	"github.com/control-theory/logprobe/internal/provision"
	"github.com/control-theory/logprobe/internal/sim"
	"github.com/control-theory/logprobe/internal/stimulus"
	"github.com/control-theory/logprobe/internal/tail"
)

const (
	e2eTenant = "e2e-tenant"
	e2eSub    = "sub-e2e"

	e2eHostJSON = `{"version":"2.0"}`
	e2eHandler  = `module.exports = async function (context, req) { context.log(req.body); };`
)

func startSim(t *testing.T) *sim.Server {
	t.Helper()
	server := sim.NewServer(sim.Options{
		ReadyDelay:        50 * time.Millisecond,
		HeartbeatInterval: 250 * time.Millisecond,
		Logf:              t.Logf,
	})
	if err := server.Start(); err != nil {
		t.Fatalf("sim Start: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Logf("sim Stop: %v", err)
		}
	})
	return server
}

// e2eRunner wires the production components against the simulator, exactly
// the way the CLI does.
func e2eRunner(t *testing.T, server *sim.Server) *probe.Runner {
	t.Helper()

	creds := provision.Credentials{
		TenantID:       e2eTenant,
		ClientID:       "e2e-client",
		ClientSecret:   "e2e-secret",
		SubscriptionID: e2eSub,
	}
	prov, err := provision.NewClient(creds, provision.Options{
		BaseURL:      server.BaseURL(),
		AuthURL:      server.AuthURL(),
		PollInterval: 25 * time.Millisecond,
		PollTimeout:  10 * time.Second,
		Logf:         t.Logf,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	caller := stimulus.NewCaller(stimulus.CallerOptions{
		Timeout:   5 * time.Second,
		WarmupRPS: 100,
		Logf:      t.Logf,
	})

	return &probe.Runner{
		Provision: prov,
		NewDeployer: func(target provision.PublishTarget) (probe.Deployer, error) {
			return deploy.NewTransport(deploy.Target{
				SCMURL:   target.SCMURL,
				Username: target.Username,
				Password: target.Password,
			}, t.Logf)
		},
		OpenStream: func(ctx context.Context, target provision.PublishTarget) (tail.LineStream, error) {
			client, err := logstream.NewClient(logstream.Options{
				SCMURL:   target.SCMURL,
				Username: target.Username,
				Password: target.Password,
			})
			if err != nil {
				return nil, err
			}
			return client.Open(ctx)
		},
		Caller: caller,
		Logf:   t.Logf,
	}
}

func e2eAssets(function string) []probe.Asset {
	return []probe.Asset{
		{RemotePath: "site/wwwroot/host.json", Data: []byte(e2eHostJSON)},
		{RemotePath: "site/wwwroot/" + function + "/index.js", Data: []byte(e2eHandler)},
	}
}

func TestProbeEndToEndAgainstSimulator(t *testing.T) {
	server := startSim(t)
	runner := e2eRunner(t, server)

	var sink syncBuffer
	cfg := probe.Config{
		Group:    "e2e-rg",
		Plan:     "e2e-plan",
		App:      "e2e-app",
		Function: "probe",
		Location: "local",
		Assets:   e2eAssets("probe"),

		Warmups:    2,
		WarmupBody: "warm",
		StimulusPlan: &stimulus.Plan{Steps: []stimulus.PlanStep{
			{Name: "greet", After: stimulus.Duration(100 * time.Millisecond), Body: "hello probe"},
			{Name: "break", After: stimulus.Duration(100 * time.Millisecond), Body: "please error"},
		}},

		Window:          2 * time.Second,
		Sink:            &sink,
		TeardownTimeout: 10 * time.Second,
	}

	summary, err := runner.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Warmups != 2 {
		t.Errorf("warmups = %d, want 2", summary.Warmups)
	}
	if summary.Tail.Reason != tail.ReasonExpired {
		t.Errorf("tail reason = %v, want expired (heartbeats keep the stream open past the window)", summary.Tail.Reason)
	}
	if summary.Tail.Lines == 0 {
		t.Error("no lines tailed")
	}
	if !summary.TornDown || summary.TeardownErr != nil {
		t.Fatalf("teardown: TornDown=%v err=%v", summary.TornDown, summary.TeardownErr)
	}

	out := sink.String()
	for _, want := range []string{
		"Welcome, you are now connected to log-streaming service.",
		"received: hello probe",
		"[Error] probe reported a failure: please error",
		"Executed 'probe'",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("tail output missing %q\noutput:\n%s", want, out)
		}
	}

	assertGroupDeleted(t, server, "e2e-rg")

	// 2 warmups + 2 stimulus steps.
	assertMetricContains(t, server,
		`logprobe_sim_invocations_total{function="probe",site="e2e-app"} 4`)
}

func TestProbeCanceledMidTailStillCleansUp(t *testing.T) {
	server := startSim(t)
	runner := e2eRunner(t, server)

	var sink syncBuffer
	cfg := probe.Config{
		Group:    "e2e-cancel-rg",
		Plan:     "e2e-cancel-plan",
		App:      "e2e-cancel-app",
		Function: "probe",
		Location: "local",
		Assets:   e2eAssets("probe"),

		Window:          30 * time.Second,
		Sink:            &sink,
		TeardownTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel as soon as the first tailed line lands, so the run is cut off
	// mid-window.
	go func() {
		deadline := time.Now().Add(15 * time.Second)
		for time.Now().Before(deadline) {
			if sink.Len() > 0 {
				cancel()
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	start := time.Now()
	summary, err := runner.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= cfg.Window {
		t.Fatalf("run took %s, cancellation did not cut the window short", elapsed)
	}
	if summary.Tail.Reason != tail.ReasonCanceled {
		t.Errorf("tail reason = %v, want canceled", summary.Tail.Reason)
	}
	if !summary.TornDown || summary.TeardownErr != nil {
		t.Fatalf("teardown: TornDown=%v err=%v", summary.TornDown, summary.TeardownErr)
	}

	assertGroupDeleted(t, server, "e2e-cancel-rg")
}

// syncBuffer is an io.Writer safe to inspect while the tail loop writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func fetchSimToken(t *testing.T, server *sim.Server) string {
	t.Helper()
	resp, err := http.PostForm(server.AuthURL()+"/"+e2eTenant+"/oauth2/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"e2e-client"},
		"client_secret": {"e2e-secret"},
		"resource":      {server.BaseURL()},
	})
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token status %d", resp.StatusCode)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return payload.AccessToken
}

func assertGroupDeleted(t *testing.T, server *sim.Server, group string) {
	t.Helper()
	token := fetchSimToken(t, server)
	target := fmt.Sprintf("%s/subscriptions/%s/resourcegroups/%s?api-version=%s",
		server.BaseURL(), e2eSub, group, provision.DefaultAPIVersion)
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET group: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("group %s still present after the run, GET status %d", group, resp.StatusCode)
	}
}

func assertMetricContains(t *testing.T, server *sim.Server, want string) {
	t.Helper()
	resp, err := http.Get(server.BaseURL() + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), want) {
		t.Errorf("metrics missing %q\n%s", want, buf.String())
	}
}

func waitEventually(t *testing.T, timeout, interval time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("eventually timeout: %s", msg)
		}
		time.Sleep(interval)
	}
}
