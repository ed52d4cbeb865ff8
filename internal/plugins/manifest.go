package plugins

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"
)

const (
	// VendorKey is the manifest key holding plugman's own fields.
	VendorKey = "plugman"

	// OfficialScope prefixes the ids of first-party plugins.
	OfficialScope = "@plugman/"

	// OfficialAuthor is reported as the author of every first-party plugin.
	OfficialAuthor = "Plugman Team"

	// UnknownAuthor is reported when a manifest names no author.
	UnknownAuthor = "Unknown"

	// DefaultCategory is used when a manifest lists no known category.
	DefaultCategory = "other"

	// DefaultEntryPoint is the plugin entry file when "main" is absent.
	DefaultEntryPoint = "index.js"
)

// KnownCategories lists the category tags a plugin may declare.
var KnownCategories = []string{
	"analytics",
	"automation",
	"data",
	"developer",
	"integration",
	"other",
	"productivity",
	"security",
	"visualization",
}

// KnownPermissions is the allow-list of permission identifiers.
var KnownPermissions = []string{
	"CLIPBOARD",
	"FILESYSTEM",
	"NETWORK",
	"NOTIFICATIONS",
	"PROFILE",
	"SHELL",
	"STORAGE",
}

// trustedLogo only admits images served from raw GitHub content.
var trustedLogo = regexp.MustCompile(`^https://raw\.githubusercontent\.com/[\w.-]+/[\w.-]+/\S+\.(?i:png|jpe?g|gif|svg|webp)$`)

// VendorManifest holds the fields nested under VendorKey. Unknown extra
// fields are ignored and values of the wrong type read as their zero value.
type VendorManifest struct {
	Title              string
	Logo               string
	Categories         []string
	Permissions        []string
	Images             []string
	ArchiveURL         string
	MinimumHostVersion string
	URLs               VendorURLs
}

// VendorURLs are auxiliary links a plugin may advertise.
type VendorURLs struct {
	Report string
	Docs   string
}

// Configuration is the parsed, immutable view of a plugin manifest. The only
// state that changes after construction is the cached directory size.
type Configuration struct {
	raw    map[string]any
	data   []byte
	vendor VendorManifest
	dir    string

	scannedSize atomic.Int64
	sizeKnown   atomic.Bool
	sizeDone    chan struct{}
}

// NewConfiguration builds a configuration from a raw manifest object. When
// dir is not empty the size of that directory is measured in the background.
func NewConfiguration(raw map[string]any, dir string) *Configuration {
	if raw == nil {
		raw = map[string]any{}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		data = []byte("{}")
	}

	c := &Configuration{
		raw:      raw,
		data:     data,
		dir:      dir,
		sizeDone: make(chan struct{}),
	}
	c.vendor = decodeVendor(gjson.GetBytes(data, VendorKey))

	if dir == "" {
		close(c.sizeDone)
	} else {
		go c.scanSize()
	}
	return c
}

// ParseConfiguration decodes a JSON manifest and builds a configuration.
func ParseConfiguration(data []byte, dir string) (*Configuration, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return NewConfiguration(raw, dir), nil
}

func decodeVendor(v gjson.Result) VendorManifest {
	if !v.IsObject() {
		return VendorManifest{}
	}
	return VendorManifest{
		Title:              stringOf(v.Get("title")),
		Logo:               stringOf(v.Get("logo")),
		Categories:         stringsOf(v.Get("categories")),
		Permissions:        stringsOf(v.Get("permissions")),
		Images:             stringsOf(v.Get("images")),
		ArchiveURL:         stringOf(v.Get("archiveUrl")),
		MinimumHostVersion: stringOf(v.Get("minimumHostVersion")),
		URLs: VendorURLs{
			Report: stringOf(v.Get("urls.report")),
			Docs:   stringOf(v.Get("urls.docs")),
		},
	}
}

func stringOf(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(r.Str)
}

func stringsOf(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	var out []string
	for _, item := range r.Array() {
		if s := stringOf(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Configuration) get(path string) gjson.Result {
	return gjson.GetBytes(c.data, path)
}

// Raw returns the unvalidated manifest object.
func (c *Configuration) Raw() map[string]any {
	return c.raw
}

// Vendor returns the typed vendor block.
func (c *Configuration) Vendor() VendorManifest {
	return c.vendor
}

// Dir returns the directory the configuration was loaded from, if any.
func (c *Configuration) Dir() string {
	return c.dir
}

func (c *Configuration) Name() string {
	return stringOf(c.get("name"))
}

// ID is the plugin's identity key; it equals the package name.
func (c *Configuration) ID() string {
	return c.Name()
}

func (c *Configuration) Description() string {
	return stringOf(c.get("description"))
}

// EntryPoint is the plugin's main file relative to its directory.
func (c *Configuration) EntryPoint() string {
	if main := stringOf(c.get("main")); main != "" {
		return main
	}
	return DefaultEntryPoint
}

// Version always returns a valid semantic version string.
func (c *Configuration) Version() string {
	v := c.get("version")
	if v.Type != gjson.String {
		return DefaultVersion
	}
	return NormalizeVersion(v.Str)
}

// Title returns the vendor title or a title-cased form of the unscoped name.
func (c *Configuration) Title() string {
	if c.vendor.Title != "" {
		return c.vendor.Title
	}
	name := c.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return StartCase(name)
}

func (c *Configuration) IsOfficial() bool {
	return strings.HasPrefix(c.ID(), OfficialScope)
}

// Author resolves the display author of the plugin.
func (c *Configuration) Author() string {
	if c.IsOfficial() {
		return OfficialAuthor
	}
	if name := personName(c.get("author")); name != "" {
		return name
	}
	if contributors := c.get("contributors"); contributors.IsArray() {
		if list := contributors.Array(); len(list) > 0 {
			if name := personName(list[0]); name != "" {
				return name
			}
		}
	}
	return UnknownAuthor
}

// personName reads an npm person field, either "Name <email> (url)" or {name}.
func personName(r gjson.Result) string {
	switch {
	case r.Type == gjson.String:
		return ParseAuthor(r.Str)
	case r.IsObject():
		return stringOf(r.Get("name"))
	}
	return ""
}

// Categories returns the known categories declared by the plugin, never empty.
func (c *Configuration) Categories() []string {
	out := filterKnown(c.vendor.Categories, KnownCategories, strings.ToLower)
	if len(out) == 0 {
		return []string{DefaultCategory}
	}
	return out
}

// Permissions returns the allow-listed permissions declared by the plugin.
func (c *Configuration) Permissions() []string {
	return filterKnown(c.vendor.Permissions, KnownPermissions, strings.ToUpper)
}

func filterKnown(values, known []string, normalize func(string) string) []string {
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}
	seen := make(map[string]bool)
	out := []string{}
	for _, v := range values {
		v = normalize(strings.TrimSpace(v))
		if !allowed[v] || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Keywords returns the title-cased, deduplicated keywords.
func (c *Configuration) Keywords() []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, k := range stringsOf(c.get("keywords")) {
		k = StartCase(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// Logo returns the logo URL only when it is hosted on a trusted host.
func (c *Configuration) Logo() string {
	if trustedLogo.MatchString(c.vendor.Logo) {
		return c.vendor.Logo
	}
	return ""
}

func (c *Configuration) Images() []string {
	return c.vendor.Images
}

// MinimumHostVersion returns the coerced minimum host version, or "" when
// the plugin declares none.
func (c *Configuration) MinimumHostVersion() string {
	v, ok := CoerceVersion(c.vendor.MinimumHostVersion)
	if !ok {
		return ""
	}
	return v
}

// IsCompatible reports whether the plugin can run on hostVersion.
func (c *Configuration) IsCompatible(hostVersion string) bool {
	minimum := c.MinimumHostVersion()
	if minimum == "" {
		return true
	}
	return hostSatisfies(hostVersion, minimum)
}

func (c *Configuration) ArchiveURL() string {
	if c.vendor.ArchiveURL != "" {
		return c.vendor.ArchiveURL
	}
	return stringOf(c.get("dist.tarball"))
}

func (c *Configuration) Homepage() string {
	return stringOf(c.get("homepage"))
}

// RepositoryURL reads "repository" as a string or {url} and strips the
// git+ prefix and .git suffix.
func (c *Configuration) RepositoryURL() string {
	repo := c.get("repository")
	url := stringOf(repo)
	if repo.IsObject() {
		url = stringOf(repo.Get("url"))
	}
	url = strings.TrimPrefix(url, "git+")
	return strings.TrimSuffix(url, ".git")
}

// SourceURL returns the best known source location of the plugin.
func (c *Configuration) SourceURL() string {
	for _, u := range []string{c.ArchiveURL(), c.RepositoryURL(), c.Homepage()} {
		if u != "" {
			return u
		}
	}
	return ""
}

// SizeBytes returns the measured directory size once known, else the
// declared size, else zero.
func (c *Configuration) SizeBytes() int64 {
	if c.sizeKnown.Load() {
		return c.scannedSize.Load()
	}
	for _, path := range []string{"dist.unpackedSize", "size"} {
		if r := c.get(path); r.Type == gjson.Number && r.Num >= 0 {
			return int64(r.Num)
		}
	}
	return 0
}

// Size renders SizeBytes for display.
func (c *Configuration) Size() string {
	return humanize.Bytes(uint64(c.SizeBytes()))
}

// SizeScanned is closed once the background directory scan has finished.
func (c *Configuration) SizeScanned() <-chan struct{} {
	return c.sizeDone
}

// PluginData is the flat, serializable form of a configuration, joined with
// installed state when produced by the manager.
type PluginData struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Title              string        `json:"title"`
	Version            string        `json:"version"`
	Description        string        `json:"description"`
	Author             string        `json:"author"`
	Categories         []string      `json:"categories"`
	Permissions        []string      `json:"permissions"`
	Keywords           []string      `json:"keywords"`
	Images             []string      `json:"images,omitempty"`
	Logo               string        `json:"logo,omitempty"`
	Size               string        `json:"size"`
	SizeBytes          int64         `json:"sizeBytes"`
	IsOfficial         bool          `json:"isOfficial"`
	ArchiveURL         string        `json:"archiveUrl,omitempty"`
	Homepage           string        `json:"homepage,omitempty"`
	RepositoryURL      string        `json:"repositoryUrl,omitempty"`
	SourceURL          string        `json:"sourceUrl,omitempty"`
	MinimumHostVersion string        `json:"minimumHostVersion,omitempty"`
	Dir                string        `json:"dir,omitempty"`
	Installed          bool          `json:"installed"`
	Enabled            bool          `json:"enabled"`
	Launchable         bool          `json:"launchable"`
	Running            bool          `json:"running"`
	Update             *UpdateStatus `json:"update,omitempty"`
}

// ToSerializable flattens the derived fields into a PluginData record.
func (c *Configuration) ToSerializable() PluginData {
	return PluginData{
		ID:                 c.ID(),
		Name:               c.Name(),
		Title:              c.Title(),
		Version:            c.Version(),
		Description:        c.Description(),
		Author:             c.Author(),
		Categories:         c.Categories(),
		Permissions:        c.Permissions(),
		Keywords:           c.Keywords(),
		Images:             c.Images(),
		Logo:               c.Logo(),
		Size:               c.Size(),
		SizeBytes:          c.SizeBytes(),
		IsOfficial:         c.IsOfficial(),
		ArchiveURL:         c.ArchiveURL(),
		Homepage:           c.Homepage(),
		RepositoryURL:      c.RepositoryURL(),
		SourceURL:          c.SourceURL(),
		MinimumHostVersion: c.MinimumHostVersion(),
		Dir:                c.dir,
	}
}
