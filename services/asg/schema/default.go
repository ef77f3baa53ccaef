// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	_ "embed"
	"fmt"
	"sync"
)

//go:embed javalike.yaml
var defaultCatalogueYAML []byte

var (
	defaultOnce      sync.Once
	defaultCatalogue *Catalogue
)

// Default returns the built-in "javalike" catalogue.
//
// The embedded document is validated by the package tests, so a parse
// failure here is a build defect and panics.
func Default() *Catalogue {
	defaultOnce.Do(func() {
		c, err := Parse(defaultCatalogueYAML)
		if err != nil {
			panic(fmt.Sprintf("schema: embedded catalogue: %v", err))
		}
		defaultCatalogue = c
	})
	return defaultCatalogue
}
