package es

import "log/slog"

// Version is the per-aggregate stream position: 1 for the first event, then
// strictly increasing with no gaps. It doubles as the optimistic-concurrency
// token: Append succeeds only when the stored head equals the expected
// Version.
type Version uint64

func (v Version) Uint64() uint64 { return uint64(v) }

func (v Version) SlogAttr() slog.Attr                  { return slog.Uint64("version", uint64(v)) }
func (v Version) SlogAttrWithKey(key string) slog.Attr { return slog.Uint64(key, uint64(v)) }
