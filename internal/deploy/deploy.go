// Package deploy pushes function code to an app through its SCM file API:
// file uploads over the VFS endpoint and a trigger sync to make the runtime
// pick them up.
package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const uploadTimeout = 2 * time.Minute

// Target is the SCM surface uploads go to, with its basic-auth publishing
// credentials.
type Target struct {
	SCMURL   string
	Username string
	Password string
}

// Transport uploads files and syncs triggers against one target.
type Transport struct {
	target Target
	hc     *http.Client
	logf   func(format string, args ...any)
}

// NewTransport validates target and builds a Transport. logf may be nil.
func NewTransport(target Target, logf func(format string, args ...any)) (*Transport, error) {
	if target.SCMURL == "" {
		return nil, errors.New("deploy: target has no SCM URL")
	}
	if target.Username == "" {
		return nil, errors.New("deploy: target has no publishing user")
	}
	if logf == nil {
		logf = log.Printf
	}
	return &Transport{
		target: Target{
			SCMURL:   strings.TrimSuffix(target.SCMURL, "/"),
			Username: target.Username,
			Password: target.Password,
		},
		hc:   &http.Client{Timeout: uploadTimeout},
		logf: logf,
	}, nil
}

// UploadFile reads localPath and uploads it to remotePath on the target.
func (t *Transport) UploadFile(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("deploy: read %s: %w", localPath, err)
	}
	return t.UploadBytes(ctx, data, remotePath)
}

// UploadBytes PUTs data to remotePath under the target's VFS API,
// overwriting whatever is there.
func (t *Transport) UploadBytes(ctx context.Context, data []byte, remotePath string) error {
	u := t.target.SCMURL + "/api/vfs/" + escapePath(remotePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("deploy: build upload %s: %w", remotePath, err)
	}
	req.SetBasicAuth(t.target.Username, t.target.Password)
	req.Header.Set("If-Match", "*")
	req.Header.Set("Content-Type", "application/octet-stream")

	if err := t.do(req, "upload "+remotePath); err != nil {
		return err
	}
	t.logf("deploy: uploaded %s (%d bytes)", remotePath, len(data))
	return nil
}

// SyncTriggers tells the runtime to re-read the deployed function
// configuration.
func (t *Transport) SyncTriggers(ctx context.Context) error {
	u := t.target.SCMURL + "/api/functions/synctriggers"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("deploy: build synctriggers: %w", err)
	}
	req.SetBasicAuth(t.target.Username, t.target.Password)

	if err := t.do(req, "synctriggers"); err != nil {
		return err
	}
	t.logf("deploy: triggers synced")
	return nil
}

func (t *Transport) do(req *http.Request, what string) error {
	resp, err := t.hc.Do(req)
	if err != nil {
		return fmt.Errorf("deploy: %s: %w", what, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("deploy: %s: status %d: %s", what, resp.StatusCode, strings.TrimSpace(string(body)))
}

// escapePath escapes each segment of a slash-separated remote path while
// keeping the separators.
func escapePath(p string) string {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
