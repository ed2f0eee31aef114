package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/oohmap/internal/cache"
	"github.com/starford/oohmap/internal/geocode"
	"github.com/starford/oohmap/internal/layers"
	"github.com/starford/oohmap/internal/mapdata"
	"github.com/starford/oohmap/internal/notion"
	"github.com/starford/oohmap/internal/project"
	"github.com/starford/oohmap/internal/storage"
	"github.com/starford/oohmap/internal/wizard"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Auth      AuthConfig        `yaml:"auth"`
	Notion    NotionConfig      `yaml:"notion"`
	Points    PointsConfig      `yaml:"points"`
	Cache     CacheConfig       `yaml:"cache"`
	Storage   StorageConfig     `yaml:"storage"`
	Geocoding GeocodingConfig   `yaml:"geocoding"`
	Upload    UploadConfig      `yaml:"upload"`
	Inbox     InboxConfig       `yaml:"inbox"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Auth, &c.Notion, &c.Points, &c.Cache, &c.Storage, &c.Geocoding, &c.Upload, &c.Inbox,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port          int    `yaml:"port"`
	AllowedOrigin string `yaml:"allowed_origin"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NotionConfig configures the record service client.
type NotionConfig struct {
	Token                string `yaml:"token"`
	BaseURL              string `yaml:"base_url"`
	APIVersion           string `yaml:"api_version"`
	MaxParentHops        int    `yaml:"max_parent_hops"`
	PageSize             int    `yaml:"page_size"`
	DefaultTitle         string `yaml:"default_title"`
	DatasetFallbackTitle string `yaml:"dataset_fallback_title"`
}

// Validate validates the Notion configuration.
func (c *NotionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Token, validation.Required.Error("is required (set NOTION_TOKEN)")),
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.APIVersion, validation.Required),
		validation.Field(&c.MaxParentHops, validation.Min(1), validation.Max(100)),
		validation.Field(&c.PageSize, validation.Min(1), validation.Max(100)),
	)
}

// PointsConfig holds the normalization policy.
type PointsConfig struct {
	InclusionFilter bool   `yaml:"inclusion_filter"`
	InclusionField  string `yaml:"inclusion_field"`
}

// Validate validates the points configuration.
func (c *PointsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.InclusionField, validation.When(c.InclusionFilter, validation.Required)),
	)
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	SQLitePath string        `yaml:"sqlite_path"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the redis cache connection.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required,
			validation.In(cache.BackendMemory, cache.BackendSQLite, cache.BackendRedis, cache.BackendNone)),
		validation.Field(&c.TTL, validation.Min(time.Second)),
		validation.Field(&c.SQLitePath, validation.When(c.Backend == cache.BackendSQLite, validation.Required)),
		validation.Field(&c.Redis, validation.When(c.Backend == cache.BackendRedis, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Redis, validation.Field(&c.Redis.Address, validation.Required))
		}))),
	)
}

func (c *CacheConfig) backendConfig() cache.Config {
	return cache.Config{
		Backend:    c.Backend,
		SQLitePath: c.SQLitePath,
		Redis: cache.RedisOptions{
			Address:  c.Redis.Address,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   "oohmap:",
		},
	}
}

// StorageConfig configures the layer file store.
type StorageConfig struct {
	Backend            string `yaml:"backend"`
	RootFolder         string `yaml:"root_folder"`
	DeletedMarker      string `yaml:"deleted_marker"`
	MetadataFile       string `yaml:"metadata_file"`
	OptimisticMetadata bool   `yaml:"optimistic_metadata"`
	Local              LocalStorageConfig `yaml:"local"`
	Drive              DriveStorageConfig `yaml:"drive"`
}

// LocalStorageConfig is the directory of the disk-backed file store.
type LocalStorageConfig struct {
	Path string `yaml:"path"`
}

// DriveStorageConfig holds the Google Drive service account credentials.
type DriveStorageConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required,
			validation.In(storage.BackendMemory, storage.BackendLocal, storage.BackendDrive)),
		validation.Field(&c.RootFolder, validation.Required),
		validation.Field(&c.DeletedMarker, validation.Required),
		validation.Field(&c.MetadataFile, validation.Required),
		validation.Field(&c.Local, validation.When(c.Backend == storage.BackendLocal, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Local, validation.Field(&c.Local.Path, validation.Required))
		}))),
		validation.Field(&c.Drive, validation.When(c.Backend == storage.BackendDrive, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Drive, validation.Field(&c.Drive.CredentialsFile, validation.Required))
		}))),
	)
}

func (c *StorageConfig) backendConfig() storage.Config {
	return storage.Config{
		Backend:              c.Backend,
		LocalPath:            c.Local.Path,
		DriveCredentialsFile: c.Drive.CredentialsFile,
	}
}

// GeocodingConfig configures the Nominatim client and request queue.
type GeocodingConfig struct {
	BaseURL        string        `yaml:"base_url"`
	UserAgent      string        `yaml:"user_agent"`
	MinInterval    time.Duration `yaml:"min_interval"`
	Timeout        time.Duration `yaml:"timeout"`
	BatchSize      int           `yaml:"batch_size"`
	DefaultCountry string        `yaml:"default_country"`
}

// Validate validates the geocoding configuration.
func (c *GeocodingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.UserAgent, validation.Required),
		validation.Field(&c.Timeout, validation.Required),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
	)
}

// UploadConfig holds the upload wizard limits.
type UploadConfig struct {
	MaxFileSize int64 `yaml:"max_file_size"`
	MaxRows     int   `yaml:"max_rows"`
}

// Validate validates the upload configuration.
func (c *UploadConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxFileSize, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.MaxRows, validation.Required, validation.Min(1)),
	)
}

// InboxConfig enables the drop-folder importer.
type InboxConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	ProjectID string `yaml:"project_id"`
}

// Validate validates the inbox configuration.
func (c *InboxConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.ProjectID, validation.When(c.Enabled, validation.Required)),
	)
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:          8080,
				AllowedOrigin: "*",
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Notion: NotionConfig{
			BaseURL:              notion.DefaultBaseURL,
			APIVersion:           notion.DefaultAPIVersion,
			MaxParentHops:        notion.DefaultMaxParentHops,
			PageSize:             notion.DefaultPageSize,
			DefaultTitle:         notion.DefaultTitle,
			DatasetFallbackTitle: notion.DefaultDatasetFallbackTitle,
		},
		Points: PointsConfig{
			InclusionField: "Incluso",
		},
		Cache: CacheConfig{
			Backend:    cache.BackendMemory,
			TTL:        mapdata.DefaultTTL,
			SQLitePath: "./oohmap-cache.db",
		},
		Storage: StorageConfig{
			Backend:       storage.BackendMemory,
			RootFolder:    project.DefaultRootFolder,
			DeletedMarker: storage.DefaultMarker,
			MetadataFile:  layers.DefaultMetadataFile,
			Local:         LocalStorageConfig{Path: "./data"},
		},
		Geocoding: GeocodingConfig{
			BaseURL:        geocode.DefaultNominatimURL,
			UserAgent:      geocode.DefaultUserAgent,
			MinInterval:    geocode.DefaultMinInterval,
			Timeout:        geocode.DefaultTimeout,
			BatchSize:      geocode.DefaultBatchSize,
			DefaultCountry: geocode.DefaultCountry,
		},
		Upload: UploadConfig{
			MaxFileSize: wizard.DefaultMaxFileSize,
			MaxRows:     wizard.DefaultMaxRows,
		},
		Inbox: InboxConfig{
			Path: "./inbox",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
