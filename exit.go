package dhtnode

// Exit codes signal why the process terminated. Mirrors teacher's flat
// integer convention so a wrapping init script can branch on them.
const (
	ExitSuccess         = 0 // clean shutdown
	ExitErrorBind       = 1 // failed to bind the UDP socket
	ExitErrorBootstrap  = 2 // bootstrap could not reach any seed peer
	ExitErrorConfigRead = 3 // config file unreadable or unparsable (a missing file falls back to the default)
	ExitErrorStateStore = 4 // routing table / peer store backend failed to open
)
