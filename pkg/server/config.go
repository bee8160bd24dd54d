package server

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/huddlechat/huddle/pkg/model"
)

// Config holds the hub's runtime settings.
type Config struct {
	// ListenAddr is the address of the main HTTP listener (/ws, /healthz).
	ListenAddr string `yaml:"listen_addr"`

	// DBPath is the SQLite database file path.
	DBPath string `yaml:"db_path"`

	// MetricsAddr is the address of the metrics listener. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// AllowedOrigins lists Origin headers accepted for websocket upgrades.
	// Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// EventRate and EventBurst bound how fast one connection may send.
	EventRate  float64 `yaml:"event_rate"`
	EventBurst int     `yaml:"event_burst"`

	// SendBuffer is the per-connection outbound queue capacity. A client
	// that falls this far behind is dropped.
	SendBuffer int `yaml:"send_buffer"`

	// RoomsFile optionally seeds rooms from a YAML file at startup.
	RoomsFile string `yaml:"rooms_file"`
}

// DefaultConfig returns the settings used when no config file is given.
func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":8090",
		DBPath:      "huddle.db",
		MetricsAddr: ":9091",
		EventRate:   20,
		EventBurst:  40,
		SendBuffer:  256,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("server: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("server: parse config: %w", err)
	}
	if cfg.EventRate <= 0 {
		cfg.EventRate = DefaultConfig().EventRate
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = DefaultConfig().EventBurst
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	return cfg, nil
}

// roomSeed is one entry in the rooms file.
type roomSeed struct {
	Name  string `yaml:"name"`
	Topic string `yaml:"topic"`
}

type roomsFile struct {
	Rooms []roomSeed `yaml:"rooms"`
}

// seedRooms creates any rooms from the YAML file that do not exist yet.
// Existing rooms are left untouched.
func (s *Server) seedRooms(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("server: read rooms file: %w", err)
	}
	var f roomsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("server: parse rooms file: %w", err)
	}

	store := s.store.NonTx()
	for _, seed := range f.Rooms {
		if seed.Name == "" {
			continue
		}
		existing, err := store.GetRoomByName(seed.Name)
		if err != nil {
			return fmt.Errorf("server: look up room %q: %w", seed.Name, err)
		}
		if existing != nil {
			continue
		}
		room := &model.Room{Name: seed.Name, Topic: seed.Topic}
		if err := store.CreateRoom(room); err != nil {
			return fmt.Errorf("server: seed room %q: %w", seed.Name, err)
		}
		slog.Info("seeded room", "room", room.Name, "id", room.ID)
	}
	return nil
}
