package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk CLI configuration:
//
//	store:
//	  base_url: https://api.example.com/rest/v1
//	  table: resources
//	  token: service-role-token
//	auth:
//	  identity_url: https://api.example.com/auth/v1/user
//	  events_url: wss://api.example.com/auth/v1/events
//	  api_key: anon-key
//	mirror:
//	  path: ./mirror.db
//	mapping: ./sections.yaml
type FileConfig struct {
	Store struct {
		BaseURL string `yaml:"base_url"`
		Table   string `yaml:"table"`
		Token   string `yaml:"token"`
	} `yaml:"store"`
	Auth struct {
		IdentityURL string `yaml:"identity_url"`
		EventsURL   string `yaml:"events_url"`
		APIKey      string `yaml:"api_key"`
	} `yaml:"auth"`
	Mirror struct {
		Path string `yaml:"path"`
	} `yaml:"mirror"`
	Mapping string `yaml:"mapping"`
}

// LoadConfig reads and parses the YAML config at path.
func LoadConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
