package launcher

import "errors"

// ErrSpawnFailed is returned when a launcher fails to create the
// underlying process or container for an instance.
var ErrSpawnFailed = errors.New("launcher: spawn failed")
