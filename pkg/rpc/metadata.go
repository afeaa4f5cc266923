package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sponsorcoin/pkg/hydrate"
	"sponsorcoin/pkg/sanitize"
)

// maxMetadataSize caps the metadata document read from the endpoint.
const maxMetadataSize = 1 << 20

// MetadataClient fetches account metadata documents from
// {BaseURL}/{address}/wallet.json.
type MetadataClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewMetadataClient(baseURL string) *MetadataClient {
	return &MetadataClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *MetadataClient) URL(address string) string {
	return fmt.Sprintf("%s/%s/wallet.json", m.BaseURL, address)
}

// FetchMetadata implements hydrate.Fetcher. Every field of the document is
// optional; fields of the wrong type are ignored.
func (m *MetadataClient) FetchMetadata(ctx context.Context, address string) (hydrate.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL(address), nil)
	if err != nil {
		return hydrate.Metadata{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := m.HTTP.Do(req)
	if err != nil {
		return hydrate.Metadata{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return hydrate.Metadata{}, hydrate.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return hydrate.Metadata{}, fmt.Errorf("metadata endpoint returned %s", resp.Status)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataSize))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return hydrate.Metadata{}, fmt.Errorf("%w: %v", hydrate.ErrMalformed, err)
	}
	if doc == nil {
		return hydrate.Metadata{}, fmt.Errorf("%w: document is null", hydrate.ErrMalformed)
	}

	text := func(key string) string {
		s, _ := doc[key].(string)
		return strings.TrimSpace(s)
	}
	md := hydrate.Metadata{
		Type:        text("type"),
		Name:        text("name"),
		Symbol:      text("symbol"),
		Website:     text("website"),
		Description: text("description"),
		LogoURL:     text("logoURL"),
	}
	if v, ok := doc["balance"]; ok {
		if bal, ok := sanitize.Balance(v); ok {
			md.Balance = bal
		}
	}
	return md, nil
}
