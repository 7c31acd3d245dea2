package registry

import "errors"

// ErrUnknownPlugin indicates a Create call named a plugin with no
// registered factory.
var ErrUnknownPlugin = errors.New("unknown plugin name")
