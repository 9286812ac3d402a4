// Package registry resolves service node identifiers to network endpoints
// through a TTL cache backed by an authoritative on-chain registry.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Node is one registered service node: its content endpoint and the wallet
// its operator delegates signing to.
type Node struct {
	ID                  uint64 `json:"spID"`
	Endpoint            string `json:"endpoint"`
	DelegateOwnerWallet string `json:"delegateOwnerWallet"`
}

// Client answers authoritative node lookups. Implementations block; callers
// treat failures as environment errors, never as defaults.
type Client interface {
	ServiceNode(ctx context.Context, id uint64) (Node, error)
}

// HTTPClient queries a registry gateway over HTTP.
type HTTPClient struct {
	base string
	hc   *http.Client
}

// NewHTTPClient builds a client against the registry gateway base URL.
func NewHTTPClient(base string) *HTTPClient {
	return &HTTPClient{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// ServiceNode fetches one node record from the registry gateway.
func (c *HTTPClient) ServiceNode(ctx context.Context, id uint64) (Node, error) {
	url := fmt.Sprintf("%s/nodes/%d", c.base, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Node{}, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return Node{}, fmt.Errorf("registry lookup %d: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Node{}, fmt.Errorf("registry lookup %d: status %d", id, resp.StatusCode)
	}
	var node Node
	if err := json.NewDecoder(resp.Body).Decode(&node); err != nil {
		return Node{}, fmt.Errorf("registry lookup %d: decode: %w", id, err)
	}
	if node.ID == 0 {
		node.ID = id
	}
	return node, nil
}

// StaticClient serves lookups from a fixed table. Intended for tests and
// local development.
type StaticClient struct {
	Nodes map[uint64]Node
}

// ServiceNode implements Client.
func (c *StaticClient) ServiceNode(_ context.Context, id uint64) (Node, error) {
	node, ok := c.Nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("registry lookup %d: unknown node", id)
	}
	return node, nil
}
