// Package catalog reads the plugin registry's listing of publishable
// plugins.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/vrsandeep/plugman/internal/netutil"
	"github.com/vrsandeep/plugman/internal/plugins"
)

// Entry is one plugin as listed by the registry.
type Entry struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	ArchiveURL     string   `json:"archiveUrl"`
	Author         string   `json:"author"`
	Categories     []string `json:"categories"`
	Images         []string `json:"images"`
	Logo           string   `json:"logo"`
	MinimumVersion string   `json:"minimumVersion"`
	Permissions    []string `json:"permissions"`
	Description    string   `json:"description"`
	Date           string   `json:"date"`
	Size           int64    `json:"size"`
	SourceProvider string   `json:"sourceProvider"`
}

// Eligible reports whether the entry can be offered for install. Entries
// without a source provider have no downloadable artifact.
func (e Entry) Eligible() bool {
	return e.ID != "" && e.SourceProvider != ""
}

// ToManifest renders the entry as a raw manifest so it can be read through
// the same Configuration accessors as an installed plugin.
func (e Entry) ToManifest() map[string]any {
	vendor := map[string]any{
		"categories":  toAny(e.Categories),
		"permissions": toAny(e.Permissions),
		"images":      toAny(e.Images),
	}
	if e.Name != "" {
		vendor["title"] = e.Name
	}
	if e.Logo != "" {
		vendor["logo"] = e.Logo
	}
	if e.ArchiveURL != "" {
		vendor["archiveUrl"] = e.ArchiveURL
	}
	if e.MinimumVersion != "" {
		vendor["minimumHostVersion"] = e.MinimumVersion
	}

	manifest := map[string]any{
		"name":            e.ID,
		"version":         e.Version,
		plugins.VendorKey: vendor,
	}
	if e.Description != "" {
		manifest["description"] = e.Description
	}
	if e.Author != "" {
		manifest["author"] = e.Author
	}
	if e.Size > 0 {
		manifest["size"] = e.Size
	}
	if e.Date != "" {
		manifest["date"] = e.Date
	}
	return manifest
}

// Configuration returns the entry as a plugin configuration.
func (e Entry) Configuration() *plugins.Configuration {
	return plugins.NewConfiguration(e.ToManifest(), "")
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// Client fetches the registry listing.
type Client struct {
	url  string
	http *retryablehttp.Client
}

func NewClient(url string, httpClient *retryablehttp.Client) *Client {
	return &Client{url: url, http: httpClient}
}

func (c *Client) URL() string {
	return c.url
}

// FetchAll returns every eligible entry of the registry. The listing may be
// a bare array or an object with a "plugins" array. Entries that fail to
// decode are skipped.
func (c *Client) FetchAll(ctx context.Context) ([]Entry, error) {
	data, err := netutil.GetBytes(ctx, c.http, c.url)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, &plugins.FetchError{URL: c.url, Cause: fmt.Errorf("registry returned invalid JSON")}
	}

	list := gjson.ParseBytes(data)
	if list.IsObject() {
		list = list.Get("plugins")
	}
	if !list.IsArray() {
		return nil, &plugins.FetchError{URL: c.url, Cause: fmt.Errorf("registry listing is not an array")}
	}

	var entries []Entry
	skipped := 0
	list.ForEach(func(_, item gjson.Result) bool {
		var entry Entry
		if err := json.Unmarshal([]byte(item.Raw), &entry); err != nil || !entry.Eligible() {
			skipped++
			return true
		}
		entries = append(entries, entry)
		return true
	})
	if skipped > 0 {
		log.Printf("Registry %s: skipped %d ineligible entries", c.url, skipped)
	}
	return entries, nil
}
