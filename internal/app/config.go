package app

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"
)

type HeaderConfig struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

// GSheetConfig describes one exported sheet. StartRow is the first data row, e.g. 4 for A4:C.
type GSheetConfig struct {
	CourseID        int64  `toml:"course_id"`
	SheetID         string `toml:"sheet_id"`
	SheetName       string `toml:"sheet_name"`
	CredentialsPath string `toml:"credentials_path"`
	StartRow        int    `toml:"start_row"`
	TimestampRange  string `toml:"timestamp_range"`
	Schedule        string `toml:"schedule"`
}

type BotConfig struct {
	Token    string  `toml:"token"`
	AdminIDs []int64 `toml:"admin_ids"`
}

type Config struct {
	Server struct {
		Port       string `toml:"port"`
		EnableAuth bool   `toml:"enable_auth"`
	} `toml:"server"`

	Auth struct {
		RedisURL         string `toml:"redis_url"`
		TokenHeader      string `toml:"token_header"`
		TokenKeyTemplate string `toml:"token_key_template"`
	} `toml:"auth"`

	API struct {
		RequiredHeaders []HeaderConfig `toml:"required_headers"`
	} `toml:"api"`

	Database struct {
		DSN           string `toml:"dsn"`
		MigrationsDir string `toml:"migrations_dir"`
	} `toml:"database"`

	Numbering struct {
		MaxAttempts int    `toml:"max_attempts"`
		Timezone    string `toml:"timezone"`
	} `toml:"numbering"`

	Grading struct {
		NormalizeWeights bool `toml:"normalize_weights"`
		Workers          int  `toml:"workers"`
	} `toml:"grading"`

	Display struct {
		TimestampFormat string `toml:"timestamp_format"`
	} `toml:"display"`

	Bot BotConfig `toml:"bot"`

	GSheet        []GSheetConfig `toml:"gsheet"`
	EmojiVariants []string       `toml:"emoji_variants"`
}

// envOverrides lets secrets stay out of the TOML file.
var envOverrides = map[string]func(*Config, string){
	"GRADEBOOK_DSN":       func(c *Config, v string) { c.Database.DSN = v },
	"GRADEBOOK_REDIS_URL": func(c *Config, v string) { c.Auth.RedisURL = v },
	"GRADEBOOK_BOT_TOKEN": func(c *Config, v string) { c.Bot.Token = v },
}

func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := Config{}
	config.Database.MigrationsDir = "./migrations"
	config.Numbering.Timezone = "UTC"
	config.Display.TimestampFormat = "2006-01-02 15:04"
	config.Auth.TokenHeader = "Authorization"
	config.Auth.TokenKeyTemplate = "auth:{course}:{student}"

	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf(
			"error reading config file %s\n> Error: %w\n> Content:\n%s",
			path,
			err,
			string(data),
		)
	}

	for name, apply := range envOverrides {
		if v := os.Getenv(name); v != "" {
			apply(&config, v)
		}
	}

	if config.Server.Port == "" {
		return nil, fmt.Errorf("Server port is not specified in config, use a value like :9999")
	}
	if config.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is not specified in config or GRADEBOOK_DSN")
	}
	if _, err := config.Location(); err != nil {
		return nil, err
	}

	logger.Debug.Printf("Loaded numbering config: %+v", config.Numbering)
	logger.Debug.Printf("Loaded grading config: %+v", config.Grading)

	return &config, nil
}

// Location is the zone the enrollment year is computed in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Numbering.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid numbering timezone %q: %w", c.Numbering.Timezone, err)
	}
	return loc, nil
}
