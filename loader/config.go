package loader

import (
	"os"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DatasetKindTexture   = "texture"
	DatasetKindElevation = "elevation"
)

// DatasetConfig describes one tile dataset: the map built from it, the
// endpoint serving its content and the loading limits.
type DatasetConfig struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	URL       string `yaml:"url"`
	MaxZoom   int    `yaml:"max_zoom"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
}

type datasetsFile struct {
	Datasets []DatasetConfig `yaml:"datasets"`
}

// LoadDatasets reads and validates a dataset configuration file.
func LoadDatasets(path string) ([]DatasetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("reading dataset configuration failed").
			WithTag("path", path).
			Wrap(err)
	}

	var file datasetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.New("parsing dataset configuration failed").
			WithTag("path", path).
			Wrap(err)
	}

	if len(file.Datasets) == 0 {
		return nil, errors.New("dataset configuration is empty").
			WithTag("path", path)
	}

	seen := make(map[string]struct{}, len(file.Datasets))
	for i := range file.Datasets {
		if err := file.Datasets[i].validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[file.Datasets[i].Name]; ok {
			return nil, errors.New("dataset name is not unique").
				WithTag("name", file.Datasets[i].Name)
		}
		seen[file.Datasets[i].Name] = struct{}{}
	}
	return file.Datasets, nil
}

func (c *DatasetConfig) validate() error {
	if c.Name == "" {
		return errors.New("dataset name is required")
	}

	switch c.Kind {
	case DatasetKindTexture, DatasetKindElevation:
	case "":
		c.Kind = DatasetKindTexture
	default:
		return errors.New("dataset kind is not supported").
			WithTag("name", c.Name).
			WithTag("kind", c.Kind)
	}

	for _, placeholder := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(c.URL, placeholder) {
			return errors.New("dataset url misses a tile placeholder").
				WithTag("name", c.Name).
				WithTag("url", c.URL).
				WithTag("placeholder", placeholder)
		}
	}

	if c.MaxZoom <= 0 {
		c.MaxZoom = 19
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkerCount
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultCapacity
	}
	return nil
}
