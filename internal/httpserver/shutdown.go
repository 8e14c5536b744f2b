package httpserver

import "time"

// ShutdownTimeout bounds graceful shutdown, including draining the rejection archive.
var ShutdownTimeout = 15 * time.Second
