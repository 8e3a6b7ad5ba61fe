package catalog

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrInvalidFilterValue = errors.New("invalid filter value")
	ErrManifestNotFound   = errors.New("manifest not found")
	ErrContentStore       = errors.New("content store request failed")
)

const defaultRequestTimeout = 10 * time.Second

// Client reads the content store: an HTTP bucket listing for category
// prefixes and per-preset meta.json manifests. The store is read-only;
// content management happens in tooling outside this repository.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient wires a content-store client. baseURL points at the bucket root.
func NewClient(baseURL string, logger *zap.Logger) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("content store base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     logger,
	}, nil
}

// listBucketResult is the XML enumeration returned by the bucket listing
// endpoint; folder prefixes arrive as CommonPrefixes entries.
type listBucketResult struct {
	XMLName        xml.Name `xml:"ListBucketResult"`
	CommonPrefixes []struct {
		Prefix string `xml:"Prefix"`
	} `xml:"CommonPrefixes"`
}

// ListCategories returns the category folder names at the bucket root.
func (client *Client) ListCategories(ctx context.Context) ([]string, error) {
	listingURL := client.baseURL + "/?list-type=2&delimiter=/"
	body, err := client.get(ctx, listingURL)
	if err != nil {
		return nil, err
	}
	var listing listBucketResult
	if err := xml.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("%w: parse listing: %v", ErrContentStore, err)
	}
	categories := make([]string, 0, len(listing.CommonPrefixes))
	for _, prefix := range listing.CommonPrefixes {
		category := strings.TrimSuffix(prefix.Prefix, "/")
		if category != "" {
			categories = append(categories, category)
		}
	}
	return categories, nil
}

// ListPresetKeys returns the preset folder names under one category.
func (client *Client) ListPresetKeys(ctx context.Context, category string) ([]string, error) {
	listingURL := fmt.Sprintf("%s/?list-type=2&delimiter=/&prefix=%s/", client.baseURL, url.QueryEscape(category))
	body, err := client.get(ctx, listingURL)
	if err != nil {
		return nil, err
	}
	var listing listBucketResult
	if err := xml.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("%w: parse listing: %v", ErrContentStore, err)
	}
	keys := make([]string, 0, len(listing.CommonPrefixes))
	for _, prefix := range listing.CommonPrefixes {
		key := strings.TrimSuffix(strings.TrimPrefix(prefix.Prefix, category+"/"), "/")
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// FetchManifest loads the meta.json manifest for one preset.
func (client *Client) FetchManifest(ctx context.Context, category string, key string) (PresetManifest, error) {
	manifestURL := fmt.Sprintf("%s/%s/%s/meta.json", client.baseURL, url.PathEscape(category), url.PathEscape(key))
	body, err := client.get(ctx, manifestURL)
	if err != nil {
		return PresetManifest{}, err
	}
	var manifest PresetManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return PresetManifest{}, fmt.Errorf("%w: parse manifest: %v", ErrContentStore, err)
	}
	return manifest, nil
}

// DownloadPath builds the relative storage path recorded on download records.
// Signing is delegated to the storage provider.
func (client *Client) DownloadPath(category string, key string, fileName string) string {
	return "/" + category + "/" + key + "/" + fileName
}

func (client *Client) get(ctx context.Context, requestURL string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentStore, err)
	}
	response, err := client.httpClient.Do(request)
	if err != nil {
		client.logger.Error("content store request failed", zap.String("url", requestURL), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrContentStore, err)
	}
	defer response.Body.Close()
	if response.StatusCode == http.StatusNotFound {
		return nil, ErrManifestNotFound
	}
	if response.StatusCode != http.StatusOK {
		client.logger.Error("content store unexpected status", zap.String("url", requestURL), zap.Int("status", response.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrContentStore, response.StatusCode)
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrContentStore, err)
	}
	return body, nil
}
