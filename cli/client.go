package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/viper"
)

// apiClient is a thin HTTP client over a running serve instance's /v2 API,
// used by the campaign/node/rpc subcommands. Grounded on the teacher's
// queue/redis.Queue style of a small hand-rolled client wrapping
// net/http rather than pulling in a generated SDK — there's no OpenAPI
// spec for this API to generate one from.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: viper.GetString("api_url"),
		token:   viper.GetString("token"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends method/path with body marshaled as JSON (nil for none) and
// unmarshals a 2xx response into out (nil to discard it). Request bodies
// are sent as application/json; use mergePatch for the /v2 API's
// merge-patch endpoints, which dispatch on Content-Type (api.readPatch).
func (c *apiClient) do(method, path string, body, out interface{}) error {
	return c.send(method, path, "application/json", body, out)
}

// mergePatch sends doc as an application/merge-patch+json body, the
// content type api.readPatch requires for PATCH /v2/campaigns/{id},
// /v2/campaigns/{id}/nodes/{n0}, and the manifest patch routes.
func (c *apiClient) mergePatch(path string, doc, out interface{}) error {
	return c.send(http.MethodPatch, path, "application/merge-patch+json", doc, out)
}

func (c *apiClient) send(method, path, contentType string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("campaignctl: encode request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("campaignctl: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if operator := viper.GetString("operator"); operator != "" {
		req.Header.Set("X-Operator", operator)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("campaignctl: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("campaignctl: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("campaignctl: %s %s: %s: %s", method, path, resp.Status, string(respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("campaignctl: decode response: %w", err)
	}
	return nil
}

// printJSON pretty-prints v to stdout, the uniform output format for every
// client subcommand so results are pipeable into jq.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
