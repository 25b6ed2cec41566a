package vespa

import (
	"archive/zip"
	"bytes"
	"context"
	"embed"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"
)

//go:embed schemas/services.xml schemas/chunk.sd.tmpl
var schemaFS embed.FS

// Deployer pushes the chunk application package to a Vespa config server
type Deployer struct {
	endpoint   string
	httpClient *http.Client
}

// NewDeployer creates a deployer for the config server at endpoint
// (e.g. http://localhost:19071).
func NewDeployer(endpoint string) (*Deployer, error) {
	endpoint, err := validateEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return &Deployer{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// Deploy renders the chunk schema for the embedding dimension and activates
// it. Redeploying the same package is a no-op on the Vespa side.
func (d *Deployer) Deploy(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("vespa deploy: embedding dimension must be positive, got %d", dimensions)
	}

	schema, err := generateSchema(dimensions)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}
	services, err := schemaFS.ReadFile("schemas/services.xml")
	if err != nil {
		return fmt.Errorf("failed to read services.xml: %w", err)
	}
	pkg, err := createAppPackage(services, schema)
	if err != nil {
		return fmt.Errorf("failed to create app package: %w", err)
	}

	deployURL := d.endpoint + "/application/v2/tenant/default/prepareandactivate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, deployURL, bytes.NewReader(pkg))
	if err != nil {
		return fmt.Errorf("failed to create deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/zip")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deployment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("deployment failed with status %s: %s", resp.Status, string(body))
	}
	return nil
}

// generateSchema renders the chunk schema with a fixed tensor size
func generateSchema(dimensions int) ([]byte, error) {
	tmplContent, err := schemaFS.ReadFile("schemas/chunk.sd.tmpl")
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New("schema").Parse(string(tmplContent))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Dimensions int }{dimensions}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// createAppPackage zips services.xml and the chunk schema
func createAppPackage(services, schema []byte) ([]byte, error) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	for _, f := range []struct {
		name string
		data []byte
	}{
		{"services.xml", services},
		{"schemas/chunk.sd", schema},
	} {
		w, err := zipWriter.Create(f.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, err
		}
	}

	if err := zipWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// validateEndpoint accepts absolute http(s) URLs and strips a trailing slash
func validateEndpoint(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("vespa endpoint is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid vespa endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid vespa endpoint %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid vespa endpoint %q: missing host", raw)
	}
	return strings.TrimSuffix(raw, "/"), nil
}
