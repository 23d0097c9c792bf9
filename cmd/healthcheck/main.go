// Command healthcheck probes the local obs-relay HTTP server for container
// health checks. It exits 0 when the probe answers 200.
//
// With -ready it probes /readyz (OBS connected, credential usable) instead of
// /healthz. The base URL comes from HEALTHCHECK_URL, else HTTP_ADDR.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	ready := flag.Bool("ready", false, "Probe /readyz instead of /healthz")
	flag.Parse()

	path := "/healthz"
	if *ready {
		path = "/readyz"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := probe(ctx, &http.Client{Timeout: 3 * time.Second}, baseURL()+path); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

// baseURL derives the probe target; ":8080" becomes http://localhost:8080.
func baseURL() string {
	if v := os.Getenv("HEALTHCHECK_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func probe(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return nil
}
