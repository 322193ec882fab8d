// Package useragent classifies HTTP User-Agent strings into the coarse
// device-type and platform buckets used by device targeting rules.
package useragent
