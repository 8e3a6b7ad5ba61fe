package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

const bucketListing = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult>
  <Name>presets</Name>
  <CommonPrefixes><Prefix>premium/</Prefix></CommonPrefixes>
  <CommonPrefixes><Prefix>vocal_chain/</Prefix></CommonPrefixes>
  <CommonPrefixes><Prefix>instrument/</Prefix></CommonPrefixes>
</ListBucketResult>`

const glowManifest = `{
  "preset": {
    "id": "glow",
    "name": "Glow",
    "description": "Warm vocal chain",
    "filters": {
      "daw": ["Ableton", "FL Studio"],
      "genre": "Pop",
      "gender": "female",
      "plugin": "Serum"
    }
  }
}`

func TestListCategoriesParsesPrefixes(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Query().Get("delimiter") != "/" {
			test.Errorf("expected delimiter query, got %q", request.URL.RawQuery)
		}
		writer.Header().Set("Content-Type", "application/xml")
		_, _ = writer.Write([]byte(bucketListing))
	}))
	test.Cleanup(server.Close)

	client := mustNewClient(test, server.URL)
	categories, err := client.ListCategories(context.Background())
	if err != nil {
		test.Fatalf("list categories: %v", err)
	}
	expected := []string{"premium", "vocal_chain", "instrument"}
	if len(categories) != len(expected) {
		test.Fatalf("expected %v, got %v", expected, categories)
	}
	for index, category := range expected {
		if categories[index] != category {
			test.Fatalf("expected %v, got %v", expected, categories)
		}
	}
}

func TestListPresetKeysStripsCategoryPrefix(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Query().Get("prefix") != "premium/" {
			test.Errorf("expected category prefix query, got %q", request.URL.RawQuery)
		}
		writer.Header().Set("Content-Type", "application/xml")
		_, _ = writer.Write([]byte(`<ListBucketResult>
  <CommonPrefixes><Prefix>premium/glow/</Prefix></CommonPrefixes>
  <CommonPrefixes><Prefix>premium/nova/</Prefix></CommonPrefixes>
</ListBucketResult>`))
	}))
	test.Cleanup(server.Close)

	client := mustNewClient(test, server.URL)
	keys, err := client.ListPresetKeys(context.Background(), "premium")
	if err != nil {
		test.Fatalf("list preset keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "glow" || keys[1] != "nova" {
		test.Fatalf("unexpected keys: %v", keys)
	}
}

func TestFetchManifestDecodesFilters(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/premium/glow/meta.json" {
			http.NotFound(writer, request)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(glowManifest))
	}))
	test.Cleanup(server.Close)

	client := mustNewClient(test, server.URL)
	manifest, err := client.FetchManifest(context.Background(), "premium", "glow")
	if err != nil {
		test.Fatalf("fetch manifest: %v", err)
	}
	if manifest.Preset.Name != "Glow" {
		test.Fatalf("unexpected name %q", manifest.Preset.Name)
	}
	daws := manifest.Preset.Filters.DAW.ToList()
	if len(daws) != 2 || daws[0] != "Ableton" || daws[1] != "FL Studio" {
		test.Fatalf("unexpected daw list: %v", daws)
	}
	genres := manifest.Preset.Filters.Genre.ToList()
	if len(genres) != 1 || genres[0] != "Pop" {
		test.Fatalf("unexpected genre list: %v", genres)
	}
}

func TestFetchManifestMissingPreset(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.NotFoundHandler())
	test.Cleanup(server.Close)

	client := mustNewClient(test, server.URL)
	_, err := client.FetchManifest(context.Background(), "premium", "missing")
	if !errors.Is(err, ErrManifestNotFound) {
		test.Fatalf("expected ErrManifestNotFound, got %v", err)
	}
}

func TestFilterValueRoundTrip(test *testing.T) {
	test.Parallel()
	var value FilterValue
	if err := value.UnmarshalJSON([]byte(`"Ableton"`)); err != nil {
		test.Fatalf("scalar unmarshal: %v", err)
	}
	if list := value.ToList(); len(list) != 1 || list[0] != "Ableton" {
		test.Fatalf("unexpected scalar normalization: %v", list)
	}
	if err := value.UnmarshalJSON([]byte(`["A","B"]`)); err != nil {
		test.Fatalf("list unmarshal: %v", err)
	}
	if list := value.ToList(); len(list) != 2 {
		test.Fatalf("unexpected list normalization: %v", list)
	}
	if err := value.UnmarshalJSON([]byte(`42`)); !errors.Is(err, ErrInvalidFilterValue) {
		test.Fatalf("expected ErrInvalidFilterValue, got %v", err)
	}
}

func TestDownloadPathLayout(test *testing.T) {
	test.Parallel()
	client := mustNewClient(test, "http://content.example")
	if path := client.DownloadPath("premium", "glow", "glow.fxp"); path != "/premium/glow/glow.fxp" {
		test.Fatalf("unexpected path %q", path)
	}
}

func mustNewClient(test *testing.T, baseURL string) *Client {
	test.Helper()
	client, err := NewClient(baseURL, zap.NewNop())
	if err != nil {
		test.Fatalf("client init: %v", err)
	}
	return client
}
