//go:build ignore

// This script obtains a calendar access token for E2E testing.
// Run with: go run scripts/get-token.go <google|outlook> <client-id>
//
// The client must be registered as a public (desktop) client that accepts
// a loopback redirect. The flow uses PKCE; no client secret is needed.

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/quantumlife/planner/internal/config"
	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/spaces"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run scripts/get-token.go <google|outlook> <client-id>")
		os.Exit(1)
	}

	provider, err := core.ParseProvider(os.Args[1])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// Find an available loopback port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Printf("Error finding available port: %v\n", err)
		os.Exit(1)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	redirectURI := fmt.Sprintf("http://127.0.0.1:%d", port)
	pc := config.ProviderConfig{ClientID: os.Args[2], Tenant: "common"}
	cfg, err := spaces.OAuthConfig(provider, pc, redirectURI)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		fmt.Printf("Error generating state: %v\n", err)
		os.Exit(1)
	}
	state := base64.RawURLEncoding.EncodeToString(stateBytes)
	verifier := oauth2.GenerateVerifier()

	// Start local server for callback
	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errMsg := q.Get("error"); errMsg != "" {
			errChan <- fmt.Errorf("OAuth error: %s %s", errMsg, q.Get("error_description"))
			http.Error(w, "Authorization failed: "+errMsg, http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			// favicon and friends
			return
		}
		if q.Get("state") != state {
			errChan <- fmt.Errorf("state mismatch")
			http.Error(w, "State mismatch", http.StatusBadRequest)
			return
		}
		codeChan <- code
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html><html><body style="font-family:system-ui;text-align:center;padding-top:20vh"><h1>Connected</h1><p>You can close this window and return to the terminal.</p></body></html>`)
	})

	server := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", port), Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	defer server.Shutdown(context.Background())

	opts := append(spaces.AuthCodeOptions(provider), oauth2.S256ChallengeOption(verifier))
	authURL := cfg.AuthCodeURL(state, opts...)

	fmt.Printf("\n=== %s OAuth Setup ===\n", provider.DisplayName())
	fmt.Printf("\nUsing redirect URI: %s\n", redirectURI)
	fmt.Println("\nOpening browser for authentication...")

	if err := openBrowser(authURL); err != nil {
		fmt.Println("\nCould not open browser automatically.")
		fmt.Println("Please open this URL manually:")
		fmt.Println(authURL)
	}

	fmt.Println("\nWaiting for authorization...")

	var code string
	select {
	case code = <-codeChan:
		fmt.Println("\nAuthorization received!")
	case err := <-errChan:
		fmt.Printf("\nError: %v\n", err)
		os.Exit(1)
	case <-time.After(5 * time.Minute):
		fmt.Println("\nTimeout waiting for authorization")
		os.Exit(1)
	}

	token, err := cfg.Exchange(context.Background(), code, oauth2.VerifierOption(verifier))
	if err != nil {
		fmt.Printf("Error exchanging code: %v\n", err)
		os.Exit(1)
	}

	envName := "PLANNER_E2E_" + strings.ToUpper(string(provider)) + "_TOKEN"
	fmt.Println("\n=== Environment Variables for E2E Tests ===")
	fmt.Printf("\nexport %s='%s'\n", envName, token.AccessToken)
	fmt.Printf("\nThe token expires at %s.\n", token.Expiry.Format(time.RFC3339))
}

// openBrowser opens a URL in the default browser
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		if _, err := exec.LookPath("xdg-open"); err == nil {
			cmd = exec.Command("xdg-open", url)
		} else if _, err := exec.LookPath("sensible-browser"); err == nil {
			cmd = exec.Command("sensible-browser", url)
		} else {
			return fmt.Errorf("no browser found")
		}
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}
