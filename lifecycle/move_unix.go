// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// +build darwin linux

package lifecycle

import (
	"os"

	"golang.org/x/sys/unix"
)

func isCrossDevice(err *os.LinkError) bool {
	return err.Err == unix.EXDEV
}
