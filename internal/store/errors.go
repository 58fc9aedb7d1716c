package store

import "errors"

var (
	// ErrInvalidArgument covers empty keys and keys/values exceeding the
	// size limits in spec §3/§6.
	ErrInvalidArgument = errors.New("store: invalid argument")
	// ErrClosed is returned by any operation after Close.
	ErrClosed = errors.New("store: closed")
	// ErrEmptyMemtable is returned by Flush when the active memtable has
	// nothing to flush.
	ErrEmptyMemtable = errors.New("store: active memtable is empty")
)
