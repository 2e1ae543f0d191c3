package loader

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/geosphere/quadtile/models"
)

// HTTPProducer fetches tile content from a z/x/y HTTP endpoint. The URL
// template contains {z}, {x} and {y} placeholders. When a disk cache is set,
// fetched content is served from and written through it.
type HTTPProducer struct {
	Dataset     string
	URLTemplate string
	Client      *http.Client
	Cache       *DiskCache
}

func (p *HTTPProducer) LoadContent(ctx context.Context, key models.TileKey) (models.Payload, error) {
	if p.Cache != nil {
		data, ok, err := p.Cache.Get(p.Dataset, key)
		if err != nil {
			logs.Warn(errors.New("disk cache lookup failed").
				WithTag("dataset", p.Dataset).
				WithTag("tile", key).
				Wrap(err))
		}
		if ok {
			instrumentCacheHit(p.Dataset)
			return &TilePayload{Key: key, Data: data}, nil
		}
		instrumentCacheMiss(p.Dataset)
	}

	data, err := p.fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	if p.Cache != nil {
		if err := p.Cache.Put(p.Dataset, key, data); err != nil {
			logs.Warn(err)
		}
	}
	return &TilePayload{Key: key, Data: data}, nil
}

func (p *HTTPProducer) fetch(ctx context.Context, key models.TileKey) ([]byte, error) {
	url := TileURL(p.URLTemplate, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.New("creating tile request failed").
			WithTag("url", url).
			Wrap(err)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, errors.New("fetching tile content failed").
			WithTag("url", url).
			Wrap(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.New("fetching tile content returned a non-ok status").
			WithTag("url", url).
			WithTag("status", res.StatusCode)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.New("reading tile content failed").
			WithTag("url", url).
			Wrap(err)
	}
	return data, nil
}

// TileURL expands the {z}, {x} and {y} placeholders of a dataset URL template.
func TileURL(template string, key models.TileKey) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(key.Z),
		"{x}", strconv.Itoa(key.X),
		"{y}", strconv.Itoa(key.Y),
	).Replace(template)
}
