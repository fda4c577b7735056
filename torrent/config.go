package torrent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/c2h5oh/datasize"
	"github.com/lkslts64/charo-verify/torrent/storage"
	"github.com/lkslts64/charo-verify/torrent/verify"
	"gopkg.in/yaml.v3"
)

const appName = "charo"

//Config provides configuration for a Client.
type Config struct {
	//directory to store the data
	BaseDir string `yaml:"dir"`
	//bbolt database with the resume state of torrents. Empty disables resume.
	ResumeDB string `yaml:"resumeDb"`
	//queue a verification pass for torrents without resume state
	VerifyOnAdd bool `yaml:"verifyOnAdd"`
	//disk read rate while verifying, e.g "20MB". 0 is unlimited
	VerifyRate datasize.ByteSize `yaml:"verifyRate"`
	//size of each read while verifying
	VerifyBufferSize datasize.ByteSize `yaml:"verifyBufferSize"`
	//invalidate checked pieces when their files change on disk
	WatchFiles bool `yaml:"watchFiles"`
	Debug      bool `yaml:"debug"`

	LogWriter   io.Writer    `yaml:"-"`
	OpenStorage storage.Open `yaml:"-"`
}

//DefaultConfig Returns the default configuration for a client
func DefaultConfig() (*Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return &Config{
		BaseDir:          dir,
		ResumeDB:         filepath.Join(xdg.DataHome, appName, "resume.db"),
		VerifyOnAdd:      true,
		VerifyBufferSize: verify.DefaultReadBufferSize * datasize.B,
		WatchFiles:       true,
		LogWriter:        os.Stderr,
		OpenStorage:      storage.OpenFileStorage,
	}, nil
}

//DefaultConfigFile returns where LoadConfig looks for the configuration
//when no path is given.
func DefaultConfigFile() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

//LoadConfig reads a YAML configuration from `path` on top of the defaults.
//An empty path reads DefaultConfigFile, which may be missing.
func LoadConfig(path string) (*Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, err
	}
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile()
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) verifyConfig() verify.Config {
	return verify.Config{
		ReadBufferSize: int(cfg.VerifyBufferSize.Bytes()),
		RateLimit:      int64(cfg.VerifyRate.Bytes()),
	}
}
