package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// TableConfig holds the tunables of the card table.
type TableConfig struct {
	DecksPerGame  int  `json:"decks_per_game"`
	Shuffle       bool `json:"shuffle"`
	MaxDrawCount  int  `json:"max_draw_count"`
	MaxDecks      int  `json:"max_decks"`
	AckTimeoutMS  int  `json:"ack_timeout_ms"`
	SendQueueSize int  `json:"send_queue_size"`
}

// DefaultTableConfig returns the values used when no config file is loaded or a
// file omits a field.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		DecksPerGame:  2,
		Shuffle:       true,
		MaxDrawCount:  10,
		MaxDecks:      8,
		AckTimeoutMS:  5000,
		SendQueueSize: 64,
	}
}

var (
	cfg      *TableConfig
	loadOnce sync.Once
	loadErr  error
)

// LoadTableConfig loads the table configuration from the given path. Only the first call
// reads the file.
func LoadTableConfig(path string) error {
	loadOnce.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			loadErr = fmt.Errorf("failed to read table config: %w", err)
			return
		}
		c, err := ParseTableConfig(data)
		if err != nil {
			loadErr = err
			return
		}
		cfg = &c
	})
	return loadErr
}

// ParseTableConfig decodes a JSON document over the defaults and validates it.
func ParseTableConfig(data []byte) (TableConfig, error) {
	c := DefaultTableConfig()
	if err := json.Unmarshal(data, &c); err != nil {
		return TableConfig{}, fmt.Errorf("failed to unmarshal table config: %w", err)
	}
	if c.DecksPerGame < 1 || c.DecksPerGame > c.MaxDecks {
		return TableConfig{}, fmt.Errorf("decks_per_game %d outside [1,%d]", c.DecksPerGame, c.MaxDecks)
	}
	if c.MaxDrawCount < 1 {
		return TableConfig{}, fmt.Errorf("max_draw_count must be positive")
	}
	if c.SendQueueSize < 1 {
		return TableConfig{}, fmt.Errorf("send_queue_size must be positive")
	}
	return c, nil
}

// GetTableConfig returns the loaded configuration, or the defaults.
func GetTableConfig() TableConfig {
	if cfg == nil {
		return DefaultTableConfig()
	}
	return *cfg
}
