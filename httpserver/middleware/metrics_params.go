/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

// MetricsParams collects label values that handlers below the metrics middleware
// set for the request being served. The middleware reads them when the request ends.
type MetricsParams struct {
	values map[string]string
}

// SetValue stores a label value under the given name, overwriting a previous one.
func (mp *MetricsParams) SetValue(name, value string) {
	if mp.values == nil {
		mp.values = make(map[string]string)
	}
	mp.values[name] = value
}
