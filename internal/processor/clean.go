package processor

import "dupmill/internal/storage"

// transientPropertyKeys are stripped from a property map before it is
// compared or copied: values a storage provider computes itself and
// that would otherwise make an identical item look changed between
// source and destination.
var transientPropertyKeys = []string{
	"content-md5",
	storage.PropContentChecksum,
	"content-modified",
	"content-size",
	"Content-Length",
	"Content-Type",
	"Last-Modified",
	"Date",
	"ETag",
	"content-length",
	"content-type",
	"last-modified",
	"date",
	"etag",
}

// cleanProperties returns a copy of props with every transient key
// removed, leaving only properties meaningful to compare or duplicate.
func cleanProperties(props map[string]string) map[string]string {
	if props == nil {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	for _, key := range transientPropertyKeys {
		delete(out, key)
	}
	return out
}

// propertiesEqual reports whether two cleaned property maps are equal.
func propertiesEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
