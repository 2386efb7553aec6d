package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/querygate/server/internal/config"
)

// ErrDatasetNotFound is returned when no dataset with the requested ID exists.
var ErrDatasetNotFound = errors.New("catalog: dataset not found")

// Dataset is a purchasable canned query. Requests name a dataset by exact ID;
// there is deliberately no fuzzy matching of free-text SQL against the
// catalog.
type Dataset struct {
	DatasetID     string            `yaml:"dataset_id" json:"datasetId"`
	Description   string            `yaml:"description" json:"description"`
	Query         string            `yaml:"query" json:"-"`
	PriceLamports int64             `yaml:"price_lamports" json:"priceLamports"`
	Asset         string            `yaml:"asset" json:"asset"`
	Metadata      map[string]string `yaml:"metadata" json:"metadata,omitempty"`
}

// Repository provides read access to the dataset catalog.
type Repository interface {
	Get(datasetID string) (Dataset, error)
	List() []Dataset
}

// staticRepository serves a fixed dataset map loaded at startup.
type staticRepository struct {
	datasets map[string]Dataset
}

// NewRepository builds the catalog from configuration: an optional standalone
// YAML file, with inline config entries merged over it.
func NewRepository(cfg config.CatalogConfig) (Repository, error) {
	datasets := make(map[string]Dataset)

	if cfg.Path != "" {
		fromFile, err := loadFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		for id, ds := range fromFile {
			datasets[id] = ds
		}
	}

	for id, ds := range cfg.Datasets {
		datasets[id] = Dataset{
			DatasetID:     ds.DatasetID,
			Description:   ds.Description,
			Query:         ds.Query,
			PriceLamports: ds.PriceLamports,
			Asset:         ds.Asset,
			Metadata:      ds.Metadata,
		}
	}

	for id, ds := range datasets {
		if ds.DatasetID == "" {
			ds.DatasetID = id
			datasets[id] = ds
		}
	}

	return &staticRepository{datasets: datasets}, nil
}

// catalogFile is the standalone YAML file shape.
type catalogFile struct {
	Datasets map[string]Dataset `yaml:"datasets"`
}

func loadFile(path string) (map[string]Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var parsed catalogFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	return parsed.Datasets, nil
}

// Get returns the dataset with the given ID. Exact match only.
func (r *staticRepository) Get(datasetID string) (Dataset, error) {
	ds, ok := r.datasets[datasetID]
	if !ok {
		return Dataset{}, ErrDatasetNotFound
	}
	return ds, nil
}

// List returns all datasets sorted by ID for stable output.
func (r *staticRepository) List() []Dataset {
	out := make([]Dataset, 0, len(r.datasets))
	for _, ds := range r.datasets {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DatasetID < out[j].DatasetID })
	return out
}
