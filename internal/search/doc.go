// Package search holds the keyword search providers that feed a run. Each
// subpackage implements archive.SearchProvider.
package search
