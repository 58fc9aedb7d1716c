package compaction

import "errors"

// ErrEmptyStore is returned by Compact when no runs exist anywhere.
var ErrEmptyStore = errors.New("compaction: no runs exist to compact")
