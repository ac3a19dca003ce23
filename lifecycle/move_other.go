// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// +build !darwin,!linux

package lifecycle

import "os"

// isCrossDevice reports false: moves are always renames on this platform.
func isCrossDevice(err *os.LinkError) bool {
	return false
}
