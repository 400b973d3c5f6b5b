package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/spf13/cobra"
)

var apiBody string

var apiCmd = &cobra.Command{
	Use:   "api <METHOD> <path>",
	Short: "Send a raw request to the backend",
	Long: `Send a request to any backend endpoint and print the JSON response.
The body is validated locally; malformed JSON is never sent. GET requests
are retried on transient failures, other methods are sent once.

Examples:
  mensa api GET /api/games
  mensa api POST /api/predict --body '{"game":"pick3","recent_k":10}'`,
	Args: cobra.ExactArgs(2),
	RunE: runAPI,
}

func init() {
	apiCmd.Flags().StringVarP(&apiBody, "body", "d", "", "JSON request body")
}

var apiMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// validateRawRequest checks the method and body before anything is sent.
func validateRawRequest(method, body string) (string, json.RawMessage, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if !slices.Contains(apiMethods, method) {
		return "", nil, &client.ValidationError{Field: "method", Message: fmt.Sprintf("unsupported method %q", method)}
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return method, nil, nil
	}
	if method == http.MethodGet {
		return "", nil, &client.ValidationError{Field: "body", Message: "GET requests take no body"}
	}
	if !json.Valid([]byte(body)) {
		return "", nil, &client.ValidationError{Field: "body", Message: "body is not valid JSON"}
	}
	return method, json.RawMessage(body), nil
}

func runAPI(cmd *cobra.Command, args []string) error {
	method, body, err := validateRawRequest(args[0], apiBody)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	resp, err := apiClient.Raw(ctx, method, args[1], body)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, resp, "", "  "); err != nil {
		fmt.Println(string(resp))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
