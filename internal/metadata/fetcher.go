package metadata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"megadata-go/internal/config"
	"megadata-go/internal/megadata"
)

const (
	base64JSONPrefix = "data:application/json;base64,"
	plainJSONPrefix  = "data:application/json,"
	utf8JSONPrefix   = "data:application/json;utf8,"

	maxBodySize    = 10 << 20
	defaultTimeout = 30 * time.Second
)

// Annotation keys injected into every fetched document.
const (
	KeyURI    = "uri"
	KeySource = "source"
	KeyID     = "id"
)

// Fetcher resolves a token's tokenURI into a metadata document.
type Fetcher struct {
	chain       megadata.ChainReader
	client      *http.Client
	gatewayBase string
	log         megadata.Logger
}

// NewFetcher creates a Fetcher. A nil client gets one with the configured timeout.
func NewFetcher(chain megadata.ChainReader, cfg config.MetadataConfig, client *http.Client, log megadata.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout.Or(defaultTimeout)}
	}
	if log == nil {
		log = megadata.NewNopLogger()
	}
	return &Fetcher{
		chain:       chain,
		client:      client,
		gatewayBase: strings.TrimRight(cfg.GatewayBase, "/"),
		log:         log,
	}
}

// FetchMetadata reads tokenURI(tokenID) from the contract and returns the
// document it points to, annotated with uri, source and id.
func (f *Fetcher) FetchMetadata(ctx context.Context, network, contract, tokenID string) (map[string]any, error) {
	uri, err := f.chain.TokenURI(ctx, network, contract, tokenID)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if inline, ok, err := decodeDataURI(uri); ok {
		if err != nil {
			return nil, &megadata.FetchError{URI: uri, Err: err}
		}
		doc = inline
	} else {
		doc, err = f.fetchRemote(ctx, uri)
		if err != nil {
			return nil, err
		}
	}

	doc[KeyURI] = uri
	doc[KeySource] = network
	doc[KeyID] = contract
	return doc, nil
}

// decodeDataURI parses inline JSON data URIs. ok is false when uri is not one.
func decodeDataURI(uri string) (map[string]any, bool, error) {
	var raw []byte
	switch {
	case strings.HasPrefix(uri, base64JSONPrefix):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, base64JSONPrefix))
		if err != nil {
			return nil, true, fmt.Errorf("decoding base64 data uri: %w", err)
		}
		raw = b
	case strings.HasPrefix(uri, utf8JSONPrefix), strings.HasPrefix(uri, plainJSONPrefix):
		body := uri[strings.Index(uri, ",")+1:]
		s, err := url.PathUnescape(body)
		if err != nil {
			return nil, true, fmt.Errorf("unescaping data uri: %w", err)
		}
		raw = []byte(s)
	default:
		return nil, false, nil
	}

	doc, err := parseObject(raw)
	return doc, true, err
}

// Resolve maps a token URI to the URL that is fetched. With a gateway base
// every remote URI is requested as <base>/ext/<uri>; without one only
// http(s) URIs are fetchable.
func (f *Fetcher) Resolve(uri string) (string, error) {
	if f.gatewayBase != "" {
		return f.gatewayBase + "/ext/" + uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("no gateway configured for %q uris", u.Scheme)
	}
	return uri, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, uri string) (map[string]any, error) {
	target, err := f.Resolve(uri)
	if err != nil {
		return nil, &megadata.FetchError{URI: uri, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &megadata.FetchError{URI: uri, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &megadata.FetchError{URI: uri, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &megadata.FetchError{URI: uri, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &megadata.FetchError{URI: uri, Err: err}
	}
	doc, err := parseObject(body)
	if err != nil {
		return nil, &megadata.FetchError{URI: uri, Err: err}
	}
	f.log.Debug("fetched metadata", "uri", uri, "url", target)
	return doc, nil
}

func parseObject(raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("metadata is not a JSON object: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("metadata is null")
	}
	return doc, nil
}
