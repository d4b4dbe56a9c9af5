// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import "fmt"

// Populated at build time via ldflags:
//
//	-X github.com/aronjanosch/readmeabook/internal/buildinfo.Version=v1.2.3
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent identifies this build on outgoing HTTP requests.
var UserAgent = fmt.Sprintf("readmeabook/%s", Version)
