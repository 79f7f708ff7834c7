// Copyright 2024 OrbitWatch

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package catalog ties the DISCOSweb client, the schema normalizer and the
// file cache into a single Get operation per dataset.
package catalog

import (
	"context"
	"time"

	"github.com/orbitwatch/discosweb/cache"
	"github.com/orbitwatch/discosweb/discos"
	"github.com/orbitwatch/discosweb/schema"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

// Config is the user-supplied catalog configuration.
type Config struct {
	Token           string `toml:"token"`            // DISCOSweb API token; required
	DataDir         string `toml:"data_dir"`         // cache directory; default: "esa_data"
	MaxAgeDays      int    `toml:"max_age_days"`     // cache freshness horizon; default: 365
	KeepGenerations int    `toml:"keep_generations"` // dated captures to retain; 0 = keep all
}

// Catalog retrieves DISCOS datasets, serving them from the cache when a
// fresh enough capture exists and refreshing them over the API otherwise.
type Catalog struct {
	config Config
	store  *cache.Store
}

// New creates a Catalog from the config, filling in the defaults.
func New(cfg Config) (*Catalog, error) {
	if cfg.Token == "" {
		return nil, errors.Reason("token is required")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "esa_data"
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = 365
	}
	if cfg.MaxAgeDays < 0 {
		return nil, errors.Reason("max_age_days = %d must be positive", cfg.MaxAgeDays)
	}
	if cfg.KeepGenerations < 0 {
		return nil, errors.Reason("keep_generations = %d must be non-negative",
			cfg.KeepGenerations)
	}
	return &Catalog{config: cfg, store: cache.NewStore(cfg.DataDir)}, nil
}

// MaxAge is the configured cache freshness horizon as a duration.
func (c *Catalog) MaxAge() time.Duration {
	return time.Duration(c.config.MaxAgeDays) * 24 * time.Hour
}

// Get returns the named dataset, from the cache when a capture younger than
// maxAge exists, otherwise fetching and normalizing all of its records over
// the API and caching the result. A failed fetch or normalization leaves the
// cache untouched.
func (c *Catalog) Get(ctx context.Context, name schema.Name, maxAge time.Duration) (*schema.Dataset, error) {
	ds, err := c.store.Resolve(ctx, name, maxAge)
	if err != nil {
		return nil, errors.Annotate(err, "failed to resolve %s in cache", name)
	}
	if ds != nil {
		return ds, nil
	}
	query, err := schema.Query(name)
	if err != nil {
		return nil, err
	}
	if discos.GetClient(ctx) == nil {
		ctx = discos.UseClient(ctx, c.config.Token)
	}
	logging.Infof(ctx, "downloading %s from %s", name, discos.URL)
	records, err := discos.FetchAll(ctx, query)
	if err != nil {
		return nil, err
	}
	ds, err = schema.Normalize(name, records)
	if err != nil {
		return nil, err
	}
	if _, err := c.store.Store(ctx, ds); err != nil {
		return nil, errors.Annotate(err, "failed to cache %s", name)
	}
	if c.config.KeepGenerations > 0 {
		if err := c.store.Prune(ctx, name, c.config.KeepGenerations); err != nil {
			return nil, errors.Annotate(err, "failed to prune old %s captures", name)
		}
	}
	return ds, nil
}
