package util

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "HOME_BRIDGE"

var Config = viper.New()

var (
	config_listeners []func()
	listenersMu      sync.Mutex
)

func RegisterNewConfigListener(new_listener func()) {
	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, listener := range config_listeners {
		if reflect.ValueOf(new_listener).Pointer() == reflect.ValueOf(listener).Pointer() {
			Logger.Warn().Msg("config listener already registered")
			return
		}
	}
	config_listeners = append(config_listeners, new_listener)
}

func OnNewConfig() {
	listenersMu.Lock()
	listeners := make([]func(), len(config_listeners))
	copy(listeners, config_listeners)
	listenersMu.Unlock()
	for _, listener := range listeners {
		listener()
	}
}

func SetDefaults() {
	Config.SetDefault("log_level", "info")

	// mqtt
	Config.SetDefault("broker_uri", "tcp://mqtt")
	Config.SetDefault("cleansess", false)
	Config.SetDefault("id_base", "home_bridge")
	Config.SetDefault("username", "")
	Config.SetDefault("password", "")
	Config.SetDefault("base_topic", "hab")
	Config.SetDefault("discovery_prefix", "homeassistant")
	Config.SetDefault("node_id", "home_bridge")
	Config.SetDefault("advertise_interval", 5*time.Minute)

	// host
	Config.SetDefault("executor.workers", 8)
	Config.SetDefault("details_port", 8080)

	// integrations
	Config.SetDefault("command_line.scan_interval", 30*time.Second)
	Config.SetDefault("rituals.enabled", false)
	Config.SetDefault("rituals.base_url", "https://rituals.sense-company.com")
	Config.SetDefault("rituals.update_interval", 30*time.Second)
	Config.SetDefault("rituals.timeout", 15*time.Second)
}

// SetupConfig loads the config file (file, when set, wins over the search
// paths) and starts watching it.
func SetupConfig(file string) {
	Config.SetEnvPrefix(ENV_PREFIX)
	SetDefaults()

	if file != "" {
		Config.SetConfigFile(file)
	} else {
		Config.SetConfigName("home_bridge")
		Config.AddConfigPath("/")
		Config.AddConfigPath("./")
		Config.AddConfigPath("./config")
		Config.AddConfigPath("/etc")
		Config.AddConfigPath("/home_bridge")
		Config.AddConfigPath("/home_bridge/config")
	}

	err := Config.ReadInConfig()
	if err != nil {
		Logger.Error().Msgf("unable to read config file: %v", fmt.Errorf("%v", err))
	}

	// environment variables
	Config.AutomaticEnv()

	// watch for changes
	Config.OnConfigChange(func(e fsnotify.Event) {
		Logger.Info().Msgf("Config file changed: %v", e.Name)
		Logger.Debug().Msgf("Config Additional Info: %v", e.String())
		OnNewConfig()
	})
	Config.WatchConfig()
}
