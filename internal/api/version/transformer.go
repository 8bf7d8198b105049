// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package version

// Transformer rewrites response data into the shape an older API version
// expects. A renamed or restructured field gets a transformer on the old
// version so pinned clients keep working.
type Transformer func(data interface{}) interface{}

// transformers maps version -> endpoint -> transformer. Empty while
// 2026-06-02 is the only version.
var transformers = map[string]map[string]Transformer{}

// Transform applies the transformer registered for the version and
// endpoint, if any. Requests on the latest version pass through
// untouched, as do unknown versions and endpoints with no transformer.
func Transform(version, endpoint string, data interface{}) interface{} {
	if version == LatestVersion {
		return data
	}

	versionTransformers, ok := transformers[version]
	if !ok {
		return data
	}

	transformer, ok := versionTransformers[endpoint]
	if !ok {
		return data
	}

	return transformer(data)
}

// RegisterTransformer adds a transformer for a version and endpoint,
// typically from an init function next to the handler it covers.
func RegisterTransformer(version, endpoint string, t Transformer) {
	if transformers[version] == nil {
		transformers[version] = make(map[string]Transformer)
	}
	transformers[version][endpoint] = t
}
