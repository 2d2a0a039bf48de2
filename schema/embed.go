package schema

import _ "embed"

// ManifestV1Schema contains the JSON schema for job manifests.
//
//go:embed hatch.v1.json
var ManifestV1Schema []byte
