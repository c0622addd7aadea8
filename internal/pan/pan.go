// Copyright (c) 2024 The armlet authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pan carries recoverable errors across the constructor call chain.
// Translator invariant violations do not use this zone: they are fatal and
// propagate as plain panics.
package pan

import "import.name/pan"

var z = new(pan.Zone)

var (
	Check = z.Check
	Panic = z.Panic
	Wrap  = z.Wrap
)

// Error converts a recovered zone panic back into its error.  Foreign
// panics pass through.
func Error(x any) error {
	return z.Error(x)
}
