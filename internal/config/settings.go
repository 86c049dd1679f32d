package config

import (
	_ "embed"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

type Config struct {
	Tracker struct {
		HTTPListen          string `json:"http_listen"`
		AnnounceIntervalSec uint32 `json:"announce_interval_seconds"`
		PeerTTLSec          uint32 `json:"peer_ttl_seconds"`
	} `json:"tracker"`

	Transports struct {
		UDP struct {
			Enabled      bool   `json:"enabled"`
			Listen       string `json:"listen"`
			ConnIDTTLSec uint32 `json:"connection_id_ttl_seconds"`
		} `json:"udp"`

		WebSocket struct {
			Enabled        bool   `json:"enabled"`
			Listen         string `json:"listen"`
			ReadTimeoutSec uint32 `json:"read_timeout_seconds"`
		} `json:"websocket"`
	} `json:"transports"`

	RateLimit struct {
		SlowDown struct {
			Limit      int64  `json:"limit"`
			WindowSec  uint32 `json:"window_seconds"`
			DelayMs    uint32 `json:"delay_ms"`
			MaxDelayMs uint32 `json:"max_delay_ms"`
		} `json:"slow_down"`

		Quota struct {
			Limit     int64  `json:"limit"`
			WindowSec uint32 `json:"window_seconds"`
		} `json:"quota"`

		AuthQuota struct {
			Limit     int64  `json:"limit"`
			WindowSec uint32 `json:"window_seconds"`
		} `json:"auth_quota"`
	} `json:"rate_limit"`

	Admin struct {
		Listen string `json:"listen"`
	} `json:"admin"`

	Geo struct {
		MMDBPath        string   `json:"mmdb_path"`
		DeniedCountries []string `json:"denied_countries"`
	} `json:"geo"`

	Redis struct {
		// Shared auth-quota counters across gateway instances. The URL
		// comes from the environment (REDIS_URL), not the settings file.
		Enabled bool `json:"enabled"`
	} `json:"redis"`
}

const settingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex
)

func init() {
	configValue.Store(Config{})
}

func ReadSettings() {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration")

			if err := os.MkdirAll("data", os.ModePerm); err != nil {
				log.Error("Error creating directory for settings file:", err)
				return
			}
			if err := os.WriteFile(settingsFilePath, defaultConfig, os.ModePerm); err != nil {
				log.Error("Error writing default settings file:", err)
				return
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file:", err)
			return
		}
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file:", err)
		return
	}

	configMu.Lock()
	configValue.Store(newConfig)
	configMu.Unlock()

	log.Debug("Settings file loaded successfully")
}

func SetConfig(newConfig Config) {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)

	data, err := json.MarshalIndent(newConfig, "", "  ")
	if err != nil {
		log.Error("Error marshalling new configuration:", err)
		return
	}
	if err := os.WriteFile(settingsFilePath, data, os.ModePerm); err != nil {
		log.Error("Error writing new configuration to file:", err)
	}
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

// AnnounceInterval returns the configured announce interval with the
// protocol-conventional default when unset.
func AnnounceInterval() time.Duration {
	cfg := GetConfig()
	if cfg.Tracker.AnnounceIntervalSec == 0 {
		return 30 * time.Minute
	}
	return time.Duration(cfg.Tracker.AnnounceIntervalSec) * time.Second
}

func seconds(v uint32, fallback time.Duration) time.Duration {
	if v == 0 {
		return fallback
	}
	return time.Duration(v) * time.Second
}

func ConnIDTTL() time.Duration {
	return seconds(GetConfig().Transports.UDP.ConnIDTTLSec, 2*time.Minute)
}

func WSReadTimeout() time.Duration {
	return seconds(GetConfig().Transports.WebSocket.ReadTimeoutSec, 2*time.Minute)
}
