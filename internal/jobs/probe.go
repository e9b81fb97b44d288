package jobs

import (
	"context"
	"net/http"
	"time"
)

// NetworkProbe tells the runner whether jobs that require the network may run.
type NetworkProbe interface {
	Online(ctx context.Context) bool
}

// AlwaysOnline is a probe for deployments where connectivity is a given.
type AlwaysOnline struct{}

func (AlwaysOnline) Online(context.Context) bool { return true }

// HTTPProbe considers the network available when URL answers a HEAD request
// with any status.
type HTTPProbe struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func (p HTTPProbe) Online(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
