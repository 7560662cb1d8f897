//go:build !linux && !darwin && !dragonfly && !freebsd && !aix && !netbsd && !openbsd && !solaris && !windows

// File: backend/backend_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub for platforms without a supported readiness facility.

package backend

import "github.com/momentics/ioready/api"

// New fails on unsupported platforms; there is no degraded mode.
func New() (api.Backend, error) {
	return nil, api.ErrBackendUnavailable
}
