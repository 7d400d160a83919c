package connector

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go-emrtd-connector/lds"
)

// Duration is a time.Duration written as "10s" in JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"10s\": %w", err)
		}
		*d = Duration(time.Duration(n) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type Config struct {
	ExchangeTimeout Duration `json:"exchange_timeout"`
	SessionTimeout  Duration `json:"session_timeout"`
	MaxChunk        int      `json:"max_chunk,omitempty"`
	// DataGroups are names like "DG2"; empty reads lds.DefaultDataGroups.
	DataGroups []string `json:"data_groups,omitempty"`
	PreferPACE bool     `json:"prefer_pace"`
	LogLevel   string   `json:"log_level,omitempty"`
	LogFormat  string   `json:"log_format,omitempty"`
}

// DefaultConfig bounds every exchange to 5s and a whole read to 60s.
func DefaultConfig() Config {
	return Config{
		ExchangeTimeout: Duration(5 * time.Second),
		SessionTimeout:  Duration(60 * time.Second),
	}
}

// ReadConfigFile reads a JSON config, filling unset fields from DefaultConfig.
func ReadConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	config := DefaultConfig()
	if err := json.Unmarshal(configBytes, &config); err != nil {
		return Config{}, err
	}
	if _, err := config.dataGroups(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) dataGroups() ([]lds.DataGroupID, error) {
	if len(c.DataGroups) == 0 {
		return nil, nil
	}
	ids := make([]lds.DataGroupID, 0, len(c.DataGroups))
	for _, name := range c.DataGroups {
		id, err := lds.ParseDataGroupID(name)
		if err != nil {
			return nil, fmt.Errorf("data_groups: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
