package pg

import (
	"github.com/nextlevelbuilder/oxicrab-gw/internal/agent"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/cron"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/heartbeat"
)

// Compile-time checks that the Postgres stores are drop-in substitutes for
// the file/SQLite defaults at every place those interfaces are consumed.
var (
	_ agent.SessionStore   = (*SessionStore)(nil)
	_ agent.MemoryStore    = (*MemoryStore)(nil)
	_ heartbeat.LastTarget = (*SessionStore)(nil)
	_ cron.DLQRecorder     = (*MemoryStore)(nil)
)
