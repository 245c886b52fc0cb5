package config

import "github.com/spf13/viper"

// ServerConfig holds settings for the report server
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "9323") // same port as the playwright report server
}
