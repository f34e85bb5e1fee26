package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
)

const defaultServerHostname = "http://localhost:8080"

var rootCmd = &cobra.Command{
	Use:   "adminctl",
	Short: "adminctl: manage streampanel accounts and reconciliation jobs",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func getServerHostname() string {
	if server := os.Getenv("STREAMPANEL_SERVER"); server != "" {
		return server
	}
	return defaultServerHostname
}

func checkFatalError(err error) {
	if err != nil {
		_, filename, line, _ := runtime.Caller(1)
		log.Fatalf("adminctl fatal error at %s:%d: %v", filename, line, err)
	}
}

func apiGet(path string) ([]byte, error) {
	req, err := http.NewRequest("GET", getServerHostname()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET: %w", err)
	}
	return doApiRequest(req)
}

func apiPost(path, contentType string, reqBody []byte) ([]byte, error) {
	req, err := http.NewRequest("POST", getServerHostname()+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create POST: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return doApiRequest(req)
}

func doApiRequest(req *http.Request) ([]byte, error) {
	client := http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s %s: %w", req.Method, req.URL, err)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("failed to %s %s: status_code=%d body=%s", req.Method, req.URL, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func main() {
	Execute()
}
