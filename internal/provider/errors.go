package provider

import "errors"

var (
	errNoAssets = errors.New("no assets requested")
	errNoData   = errors.New("no history returned for any asset")
)
