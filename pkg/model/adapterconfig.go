package model

import "time"

// AdapterType discriminates the adapter-specific config block carried by an
// AdapterConfig.
type AdapterType string

const (
	AdapterTypeFile     AdapterType = "file"
	AdapterTypeHTTP     AdapterType = "http"
	AdapterTypeRepo     AdapterType = "repo"
	AdapterTypeWiki     AdapterType = "wiki"
	AdapterTypeDatabase AdapterType = "database"
)

// AdapterConfig is the common envelope for every adapter's configuration.
// Exactly one of the type-specific blocks below is populated, matching
// Type. Unmarshaled from the config file's `adapters` list via viper +
// mapstructure, with Type acting as the discriminator a caller inspects
// before reading the type-specific block.
type AdapterConfig struct {
	Type            AdapterType   `mapstructure:"type" json:"type"`
	Name            string        `mapstructure:"name" json:"name"`
	Priority        int           `mapstructure:"priority" json:"priority"`
	Enabled         bool          `mapstructure:"enabled" json:"enabled"`
	TimeoutMs       int           `mapstructure:"timeout_ms" json:"timeout_ms"`
	MaxRetries      int           `mapstructure:"max_retries" json:"max_retries"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" json:"refresh_interval"`
	Categories      []string      `mapstructure:"categories" json:"categories,omitempty"`

	File     *FileAdapterConfig     `mapstructure:"file,omitempty" json:"file,omitempty"`
	HTTP     *HTTPAdapterConfig     `mapstructure:"http,omitempty" json:"http,omitempty"`
	RepoWiki *RepoWikiAdapterConfig `mapstructure:"repo_wiki,omitempty" json:"repo_wiki,omitempty"`
	Database *DatabaseAdapterConfig `mapstructure:"database,omitempty" json:"database,omitempty"`
}

// FileAdapterConfig configures the File Adapter (C7).
type FileAdapterConfig struct {
	Roots          []string `mapstructure:"roots" json:"roots"`
	MaxDepth       int      `mapstructure:"max_depth" json:"max_depth"`
	IncludeGlobs   []string `mapstructure:"include_globs" json:"include_globs,omitempty"`
	ExcludeGlobs   []string `mapstructure:"exclude_globs" json:"exclude_globs,omitempty"`
	MaxFileBytes   int64    `mapstructure:"max_file_bytes" json:"max_file_bytes"`
	WatchForChanges bool    `mapstructure:"watch_for_changes" json:"watch_for_changes"`
	FuzzyThreshold float64  `mapstructure:"fuzzy_threshold" json:"fuzzy_threshold"`
}

// HTTPEndpointAuth enumerates the closed set of auth variants an endpoint
// may declare.
type HTTPEndpointAuth struct {
	Type            string `mapstructure:"type" json:"type"` // none|api_key|bearer_token|basic
	HeaderName      string `mapstructure:"header_name" json:"header_name,omitempty"`
	ValueEnvVar     string `mapstructure:"value_env_var" json:"value_env_var,omitempty"`
	UsernameEnvVar  string `mapstructure:"username_env_var" json:"username_env_var,omitempty"`
	PasswordEnvVar  string `mapstructure:"password_env_var" json:"password_env_var,omitempty"`
}

// HTTPSelectors declares the CSS selectors used to extract a Document from
// an html-typed endpoint's response.
type HTTPSelectors struct {
	Title   string `mapstructure:"title" json:"title,omitempty"`
	Content string `mapstructure:"content" json:"content,omitempty"`
	Exclude string `mapstructure:"exclude" json:"exclude,omitempty"`
}

// HTTPEndpoint is one configured endpoint of the HTTP Adapter (C8).
type HTTPEndpoint struct {
	Method          string         `mapstructure:"method" json:"method"`
	URL             string         `mapstructure:"url" json:"url"`
	ContentType     string         `mapstructure:"content_type" json:"content_type"` // html|json
	Selectors       *HTTPSelectors `mapstructure:"selectors" json:"selectors,omitempty"`
	JSONProjections []string       `mapstructure:"json_projections" json:"json_projections,omitempty"`
	Auth            HTTPEndpointAuth `mapstructure:"auth" json:"auth"`
	RateLimitPerMin int            `mapstructure:"rate_limit" json:"rate_limit"`
	TimeoutMs       int            `mapstructure:"timeout_ms" json:"timeout_ms"`
	CacheTTLSeconds int            `mapstructure:"cache_ttl" json:"cache_ttl"`
	FollowRedirects bool           `mapstructure:"follow_redirects" json:"follow_redirects"`
}

// HTTPAdapterConfig configures the HTTP Adapter (C8).
type HTTPAdapterConfig struct {
	Endpoints        []HTTPEndpoint `mapstructure:"endpoints" json:"endpoints"`
	MaxContentSizeMB int            `mapstructure:"max_content_size_mb" json:"max_content_size_mb"`
	MaxConcurrency   int            `mapstructure:"max_concurrency" json:"max_concurrency"`
	BackoffMaxMs     int            `mapstructure:"backoff_max_ms" json:"backoff_max_ms"`
}

// RepoWikiAdapterConfig configures a Repository/Wiki Adapter (C9).
type RepoWikiAdapterConfig struct {
	BaseURL                string   `mapstructure:"base_url" json:"base_url"`
	TokenEnvVar            string   `mapstructure:"token_env_var" json:"token_env_var"`
	Scopes                 []string `mapstructure:"scopes" json:"scopes"`
	QuotaFractionOfUpstream float64 `mapstructure:"quota_fraction_of_upstream" json:"quota_fraction_of_upstream"`
	MinIntervalMs          int      `mapstructure:"min_interval_ms" json:"min_interval_ms"`
	MaxPageBytes           int64    `mapstructure:"max_page_bytes" json:"max_page_bytes"`
	IncludeGenerated       bool     `mapstructure:"include_generated" json:"include_generated"`
	UserConsentGiven       bool     `mapstructure:"user_consent_given" json:"user_consent_given"`
	RunbookScoreThreshold  float64  `mapstructure:"runbook_score_threshold" json:"runbook_score_threshold"`
}

// DatabaseSchemaMapping names the canonical fields a table/collection maps
// onto a Document, used by the Schema Detector and Content Processor.
type DatabaseSchemaMapping struct {
	Table         string            `mapstructure:"table" json:"table"`
	TitleField    string            `mapstructure:"title_field" json:"title_field"`
	ContentField  string            `mapstructure:"content_field" json:"content_field"`
	CategoryField string            `mapstructure:"category_field" json:"category_field,omitempty"`
	AuthorField   string            `mapstructure:"author_field" json:"author_field,omitempty"`
	UpdatedField  string            `mapstructure:"updated_field" json:"updated_field,omitempty"`
	TagsField     string            `mapstructure:"tags_field" json:"tags_field,omitempty"`
	StaticFilter  map[string]string `mapstructure:"static_filter" json:"static_filter,omitempty"`
}

// DatabaseAdapterConfig configures the Database Adapter (C10).
type DatabaseAdapterConfig struct {
	Dialect            string                  `mapstructure:"dialect" json:"dialect"` // postgres|mysql|sqlserver|document
	DSNEnvVar          string                  `mapstructure:"dsn_env_var" json:"dsn_env_var"`
	MinConnections     int                     `mapstructure:"min_connections" json:"min_connections"`
	MaxConnections     int                     `mapstructure:"max_connections" json:"max_connections"`
	ConnTimeoutMs      int                     `mapstructure:"connection_timeout_ms" json:"connection_timeout_ms"`
	IdleTimeoutMs      int                     `mapstructure:"idle_timeout_ms" json:"idle_timeout_ms"`
	MaxLifetimeMs      int                     `mapstructure:"max_lifetime_ms" json:"max_lifetime_ms"`
	TLSEnabled         bool                    `mapstructure:"tls_enabled" json:"tls_enabled"`
	ValidateConnections bool                   `mapstructure:"validate_connections" json:"validate_connections"`
	Mappings           []DatabaseSchemaMapping `mapstructure:"mappings" json:"mappings"`
	MaxContentLength   int                     `mapstructure:"max_content_length" json:"max_content_length"`
}
