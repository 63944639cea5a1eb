package broker

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig seeds viper with the documented defaults, binds BROKER_-prefixed
// environment variables over them, and optionally merges a YAML/JSON file at
// path (path == "" skips the file read entirely; a missing file is not an
// error, a malformed one is).
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("max_cache_mb", def.MaxCacheMB)
	v.SetDefault("correction_context_size", def.CorrectionContextSize)
	v.SetDefault("correction_enabled_source_languages", sortedKeys(def.CorrectionEnabledSourceLanguages))
	v.SetDefault("default_target_language", def.DefaultTargetLanguage)
	v.SetDefault("stt_ping_interval_s", def.STTPingIntervalSeconds)
	v.SetDefault("stt_ping_timeout_s", def.STTPingTimeoutSeconds)
	v.SetDefault("reconnect_backoff_schedule", def.ReconnectBackoffSchedule)
	v.SetDefault("stt_finalize_timeout_s", def.STTFinalizeTimeoutSeconds)
	v.SetDefault("artifact_root", def.ArtifactRoot)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	langs := make(map[string]struct{})
	for _, lang := range v.GetStringSlice("correction_enabled_source_languages") {
		lang = strings.TrimSpace(lang)
		if lang != "" {
			langs[lang] = struct{}{}
		}
	}

	backoff := v.GetStringSlice("reconnect_backoff_schedule")
	schedule := def.ReconnectBackoffSchedule
	if len(backoff) > 0 {
		parsed := make([]float64, 0, len(backoff))
		for _, s := range backoff {
			var f float64
			if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
				return Config{}, fmt.Errorf("parse reconnect_backoff_schedule entry %q: %w", s, err)
			}
			parsed = append(parsed, f)
		}
		schedule = parsed
	}

	return Config{
		MaxCacheMB:                       v.GetInt("max_cache_mb"),
		CorrectionContextSize:            v.GetInt("correction_context_size"),
		CorrectionEnabledSourceLanguages: langs,
		DefaultTargetLanguage:            v.GetString("default_target_language"),
		STTPingIntervalSeconds:           v.GetInt("stt_ping_interval_s"),
		STTPingTimeoutSeconds:            v.GetInt("stt_ping_timeout_s"),
		ReconnectBackoffSchedule:         schedule,
		STTFinalizeTimeoutSeconds:        v.GetInt("stt_finalize_timeout_s"),
		ArtifactRoot:                     v.GetString("artifact_root"),
	}, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
