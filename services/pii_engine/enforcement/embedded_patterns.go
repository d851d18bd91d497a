// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file bridges the build system and the runtime scanner. It uses the Go
embed package to bake pii_entity_patterns.yaml directly into the compiled
binary, so the entity definitions are immutable at runtime and travel with
the executable.
*/

package enforcement

import (
	_ "embed"
)

// PIIEntityPatterns holds the raw byte content of 'pii_entity_patterns.yaml'.
//
// Populated at compile time via the 'embed' directive. Baking the YAML into
// the binary means the detection rules cannot be tampered with on the host
// filesystem without recompiling the scanner.
//
// Usage:
//
//	err := yaml.Unmarshal(enforcement.PIIEntityPatterns, &targetStruct)
//
//go:embed pii_entity_patterns.yaml
var PIIEntityPatterns []byte
