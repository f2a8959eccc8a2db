// Package config loads the recognized configuration keys from spec.md §6,
// rejecting any key it doesn't know about.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

var knownKeys = map[string]struct{}{
	"logLevel":            {},
	"port":                {},
	"paintDelay":          {},
	"useDB":               {},
	"width":               {},
	"height":              {},
	"clearBoard":          {},
	"validationPaste":     {},
	"key":                 {},
	"cert":                {},
	"maxWebSocketPerIP":   {},
	"banDuration":         {},
	"ticksPerSecond":      {},
	"maxPacketPerSecond":  {},
	"enableTokenCounting": {},
	"maxAllowedUID":       {},
	"banToken":            {},
}

var validLogLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "error": {}, "fatal": {},
}

// Config is the fully-resolved, validated server configuration.
type Config struct {
	LogLevel            string
	Port                int
	PaintDelay          time.Duration
	UseDB               bool
	Width               int
	Height              int
	ClearBoard          bool
	ValidationPaste     string
	KeyPath             string
	CertPath            string
	MaxWebSocketPerIP   int
	BanDuration         time.Duration
	TicksPerSecond      int
	MaxPacketPerSecond  int
	EnableTokenCounting bool
	MaxAllowedUID       *int64
	BanToken            string
}

// Default returns the configuration spec.md §6 describes when every
// optional key is omitted.
func Default() Config {
	return Config{
		LogLevel:           "info",
		Port:               8080,
		PaintDelay:         0,
		UseDB:              false,
		Width:              1000,
		Height:             600,
		ClearBoard:         false,
		ValidationPaste:    "IkaPaintBoard",
		MaxWebSocketPerIP:  0,
		BanDuration:        60 * time.Second,
		TicksPerSecond:     128,
		MaxPacketPerSecond: 128,
	}
}

type rawConfig struct {
	LogLevel            *string `json:"logLevel"`
	Port                *int    `json:"port"`
	PaintDelay          *int64  `json:"paintDelay"`
	UseDB               *bool   `json:"useDB"`
	Width               *int    `json:"width"`
	Height              *int    `json:"height"`
	ClearBoard          *bool   `json:"clearBoard"`
	ValidationPaste     *string `json:"validationPaste"`
	Key                 *string `json:"key"`
	Cert                *string `json:"cert"`
	MaxWebSocketPerIP   *int    `json:"maxWebSocketPerIP"`
	BanDuration         *int64  `json:"banDuration"`
	TicksPerSecond      *int    `json:"ticksPerSecond"`
	MaxPacketPerSecond  *int    `json:"maxPacketPerSecond"`
	EnableTokenCounting *bool   `json:"enableTokenCounting"`
	MaxAllowedUID       *int64  `json:"maxAllowedUID"`
	BanToken            *string `json:"banToken"`
}

// Load reads and validates a JSON config file at path, rejecting any key it
// does not recognize and applying spec.md §6's defaults for every key left
// unset.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &asMap); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for key := range asMap {
		if _, ok := knownKeys[key]; !ok {
			return Config{}, fmt.Errorf("config: unrecognized key %q", key)
		}
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg := Default()
	if raw.LogLevel != nil {
		if _, ok := validLogLevels[*raw.LogLevel]; !ok {
			return Config{}, fmt.Errorf("config: invalid logLevel %q", *raw.LogLevel)
		}
		cfg.LogLevel = *raw.LogLevel
	}
	if raw.Port != nil {
		cfg.Port = *raw.Port
	}
	if raw.PaintDelay != nil {
		if *raw.PaintDelay < 0 {
			return Config{}, fmt.Errorf("config: paintDelay must be >= 0")
		}
		cfg.PaintDelay = time.Duration(*raw.PaintDelay) * time.Millisecond
	}
	if raw.UseDB != nil {
		cfg.UseDB = *raw.UseDB
	}
	if raw.Width != nil {
		if *raw.Width < 1 {
			return Config{}, fmt.Errorf("config: width must be >= 1")
		}
		cfg.Width = *raw.Width
	}
	if raw.Height != nil {
		if *raw.Height < 1 {
			return Config{}, fmt.Errorf("config: height must be >= 1")
		}
		cfg.Height = *raw.Height
	}
	if raw.ClearBoard != nil {
		cfg.ClearBoard = *raw.ClearBoard
	}
	if raw.ValidationPaste != nil {
		cfg.ValidationPaste = *raw.ValidationPaste
	}
	if raw.Key != nil {
		cfg.KeyPath = *raw.Key
	}
	if raw.Cert != nil {
		cfg.CertPath = *raw.Cert
	}
	if raw.MaxWebSocketPerIP != nil {
		if *raw.MaxWebSocketPerIP < 0 {
			return Config{}, fmt.Errorf("config: maxWebSocketPerIP must be >= 0")
		}
		cfg.MaxWebSocketPerIP = *raw.MaxWebSocketPerIP
	}
	if raw.BanDuration != nil {
		cfg.BanDuration = time.Duration(*raw.BanDuration) * time.Millisecond
	}
	if raw.TicksPerSecond != nil {
		if *raw.TicksPerSecond < 1 {
			return Config{}, fmt.Errorf("config: ticksPerSecond must be >= 1")
		}
		cfg.TicksPerSecond = *raw.TicksPerSecond
	}
	if raw.MaxPacketPerSecond != nil {
		if *raw.MaxPacketPerSecond < 1 {
			return Config{}, fmt.Errorf("config: maxPacketPerSecond must be >= 1")
		}
		cfg.MaxPacketPerSecond = *raw.MaxPacketPerSecond
	}
	if raw.EnableTokenCounting != nil {
		cfg.EnableTokenCounting = *raw.EnableTokenCounting
	}
	if raw.MaxAllowedUID != nil {
		cfg.MaxAllowedUID = raw.MaxAllowedUID
	}
	if raw.BanToken != nil {
		cfg.BanToken = *raw.BanToken
	}

	return cfg, nil
}
