// Package types provides core types shared across the voice agent backend.
// This package has ZERO dependencies on other packages in this module to
// avoid circular imports. All other packages import types from here.
package types
