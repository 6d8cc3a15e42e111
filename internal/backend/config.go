package backend

import (
	"fmt"

	"finsight/internal/config"
)

// FromAppConfig converts the application config to backend config.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	cfg := Config{
		Type: backendType,

		SQLiteDBPath: appConfig.SQLiteDBPath,
		DatabaseURL:  appConfig.DatabaseURL,
		SeedDir:      appConfig.SeedDir,
		SeedUser:     appConfig.SeedUser,

		Export:                   ExportType(appConfig.ExportBackend),
		GoogleSpreadsheetID:      appConfig.GoogleSpreadsheetID,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
	}
	return cfg, cfg.Validate()
}

// Validate checks the fields required by the selected adapters.
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for postgres backend")
		}
	case MemoryBackend:
		// SeedDir defaults to "data" and a missing seed file is fine
	}

	switch c.Export {
	case "", ExportNone:
	case ExportSheets:
		if c.GoogleSpreadsheetID == "" {
			return fmt.Errorf("Google Spreadsheet ID is required for sheets export")
		}
	default:
		return fmt.Errorf("invalid export backend: %s", c.Export)
	}
	return nil
}

// GetBackendTypes returns all valid backend types.
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SQLiteBackend, PostgresBackend}
}

// GetBackendTypeStrings returns all valid backend type strings.
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}

// ValidateShared checks that the ledger can be read by a process other than
// the one writing it, as the export worker does. The memory backend lives
// inside one process, so a worker would only ever see its own empty store.
func (c Config) ValidateShared() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Type == MemoryBackend {
		return fmt.Errorf("the %s backend is private to one process; use %s or %s", MemoryBackend, SQLiteBackend, PostgresBackend)
	}
	return nil
}
