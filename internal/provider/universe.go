package provider

import (
	"context"
	"encoding/json"
	"net/url"
)

// FetchUniverse returns the constituent asset IDs of an index, used as the
// default screening universe.
func (c *Client) FetchUniverse(ctx context.Context, index string) ([]string, error) {
	key := "universe:" + index

	var assets []string
	raw, ok := c.cache.Get(ctx, key)
	if ok && json.Unmarshal(raw, &assets) == nil {
		return assets, nil
	}

	raw, err := c.get(ctx, "/v1/universe", url.Values{"index": {index}})
	if err != nil {
		return nil, &FetchError{Op: "universe " + index, Err: err}
	}
	if err := json.Unmarshal(raw, &assets); err != nil {
		return nil, &FetchError{Op: "universe " + index, Err: err}
	}

	c.cache.Set(ctx, key, raw, c.config.CacheTTL.Std())
	return assets, nil
}
