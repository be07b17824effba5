package duckdb

import "github.com/tinytelemetry/statwalk/internal/model"

var (
	_ model.SampleWriter = (*Store)(nil)
	_ model.ReadAPI      = (*Store)(nil)
)
