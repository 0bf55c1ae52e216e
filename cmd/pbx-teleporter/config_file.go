package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileSettings mirrors the settings the desktop teleporter kept; absent keys
// leave the current value alone.
type fileSettings struct {
	SerialDevice *string `yaml:"serialDevice"`
	BindIP       *string `yaml:"bind_ip"`
	ListenPort   *int    `yaml:"listenPort"`
	SendPort     *int    `yaml:"sendPort"`
	MaxPixels    *int    `yaml:"maxPixels"`
	Baud         *int    `yaml:"baud"`
}

func loadFile(path string) (*fileSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	var fs fileSettings
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	return &fs, nil
}

// applyFile copies file values into c for every field not set by a flag.
// Environment overrides are applied afterwards and win over the file.
func applyFile(c *appConfig, path string, set map[string]struct{}) error {
	fs, err := loadFile(path)
	if err != nil {
		return err
	}
	str := func(flagName string, src *string, dst *string) {
		if _, ok := set[flagName]; !ok && src != nil {
			*dst = *src
		}
	}
	num := func(flagName string, src *int, dst *int) {
		if _, ok := set[flagName]; !ok && src != nil {
			*dst = *src
		}
	}
	str("serial", fs.SerialDevice, &c.serialDev)
	str("bind-ip", fs.BindIP, &c.bindIP)
	num("listen-port", fs.ListenPort, &c.listenPort)
	num("send-port", fs.SendPort, &c.sendPort)
	num("max-pixels", fs.MaxPixels, &c.maxPixels)
	num("baud", fs.Baud, &c.baud)
	return nil
}
