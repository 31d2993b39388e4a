package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/warpcomdev/ts413camera/internal/driver/camera"
)

type Config struct {
	Port                int    `json:"Port" toml:"Port" yaml:"Port"`
	ReadTimeoutSeconds  int    `json:"ReadTimeout" toml:"ReadTimeout" yaml:"ReadTimeout"`
	WriteTimeoutSeconds int    `json:"WriteTimeout" toml:"WriteTimeout" yaml:"WriteTimeout"`
	MaxHeaderBytes      int    `json:"MaxHeaderBytes" toml:"MaxHeaderBytes" yaml:"MaxHeaderBytes"`
	LogFolder           string `json:"LogFolder" toml:"LogFolder" yaml:"LogFolder"`
	LogFileSizeMb       int    `json:"LogFileSizeMb" toml:"LogFileSizeMb" yaml:"LogFileSizeMb"`
	LogFileNum          int    `json:"LogFileNum" toml:"LogFileNum" yaml:"LogFileNum"`
	LibraryPath         string `json:"LibraryPath" toml:"LibraryPath" yaml:"LibraryPath"`
	Simulate            bool   `json:"Simulate" toml:"Simulate" yaml:"Simulate"`
	Gain                int    `json:"Gain" toml:"Gain" yaml:"Gain"`
	GrabTimeoutMs       int    `json:"GrabTimeoutMs" toml:"GrabTimeoutMs" yaml:"GrabTimeoutMs"`
	GrabIntervalMs      int    `json:"GrabIntervalMs" toml:"GrabIntervalMs" yaml:"GrabIntervalMs"`
	AutoConnect         bool   `json:"AutoConnect" toml:"AutoConnect" yaml:"AutoConnect"`
	MonitorSeconds      int    `json:"MonitorSeconds" toml:"MonitorSeconds" yaml:"MonitorSeconds"`
	ExportFolder        string `json:"ExportFolder" toml:"ExportFolder" yaml:"ExportFolder"`
	ExportPrefix        string `json:"ExportPrefix" toml:"ExportPrefix" yaml:"ExportPrefix"`
	AutoExport          bool   `json:"AutoExport" toml:"AutoExport" yaml:"AutoExport"`
	Debug               bool   `json:"Debug" toml:"Debug" yaml:"Debug"`
}

// LoadConfig decodes the config file and fills in defaults
func LoadConfig(configPath string) (Config, error) {
	var config Config
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		return config, err
	}
	if err := config.Check(configPath); err != nil {
		return config, err
	}
	return config, nil
}

func (config *Config) Check(configPath string) error {
	if config.Port < 1024 || config.Port > 65535 {
		config.Port = 8080
	}
	if config.ReadTimeoutSeconds < 1 {
		config.ReadTimeoutSeconds = 5
	}
	if config.WriteTimeoutSeconds < 1 {
		config.WriteTimeoutSeconds = 30
	}
	if config.MaxHeaderBytes < 4096 {
		config.MaxHeaderBytes = 1 << 20
	}
	configDir := filepath.Dir(configPath)
	if config.LogFolder == "" {
		config.LogFolder = filepath.Join(configDir, "logs")
	}
	if config.LogFileSizeMb < 1 {
		config.LogFileSizeMb = 10
	}
	if config.LogFileNum < 1 {
		config.LogFileNum = 5
	}
	if config.LibraryPath == "" {
		config.LibraryPath = "TS413.dll"
	}
	if config.Gain == 0 {
		config.Gain = camera.DefaultGain
	}
	if config.Gain < camera.GainMin || config.Gain > camera.GainMax {
		return fmt.Errorf("gain config parameter must be in [%d, %d]", camera.GainMin, camera.GainMax)
	}
	if config.GrabTimeoutMs < 1 {
		config.GrabTimeoutMs = int(camera.DefaultGrabTimeout / time.Millisecond)
	}
	if config.GrabIntervalMs < 1 {
		config.GrabIntervalMs = int(camera.DefaultGrabInterval / time.Millisecond)
	}
	if config.MonitorSeconds < 1 {
		config.MonitorSeconds = 60
	}
	if config.ExportFolder == "" {
		config.ExportFolder = filepath.Join(configDir, "frames")
	}
	if config.ExportPrefix == "" {
		config.ExportPrefix = "ts413"
	}
	return nil
}

func (config Config) Options() camera.Options {
	return camera.Options{
		Gain:         uint16(config.Gain),
		GrabTimeout:  time.Duration(config.GrabTimeoutMs) * time.Millisecond,
		GrabInterval: time.Duration(config.GrabIntervalMs) * time.Millisecond,
	}
}
