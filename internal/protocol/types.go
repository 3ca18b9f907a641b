package protocol

// Client-to-server message type codes.
const (
	// TypeInit announces the client identity and opens the session
	TypeInit byte = 0x00
	// TypeFileChange writes a single file under the session root
	TypeFileChange byte = 0x01
	// TypeFileDelete removes a single file under the session root
	TypeFileDelete byte = 0x02
	// TypeFileCheck asks the server to compare its on-disk copy against a hash
	TypeFileCheck byte = 0x03
	// TypeFileSync writes a file as part of a check/sync phase
	TypeFileSync byte = 0x04
	// TypeCheckFileCount announces how many files the client will check
	TypeCheckFileCount byte = 0x05
	// TypeDevelopment starts a dev/watch build for the session
	TypeDevelopment byte = 0x06
	// TypeBuild runs a one-shot build and streams the artifacts back
	TypeBuild byte = 0x07
	// TypeSyncHashSet replaces the session's ignore-hash set
	TypeSyncHashSet byte = 0x08
)

// Server-to-client message type codes.
const (
	// TypeInitDone acknowledges session initialization
	TypeInitDone byte = 0x09
	// TypeFileUpdateNeeded tells the client a checked file is stale on the server
	TypeFileUpdateNeeded byte = 0x0A
	// TypeCheckOff signals that the check/sync phase completed
	TypeCheckOff byte = 0x0B
	// TypeDevServerStart signals that the dev build is ready
	TypeDevServerStart byte = 0x0C
	// TypeBuildFileSync carries one build artifact file
	TypeBuildFileSync byte = 0x0D
	// TypeConsoleMessage carries user-visible text for the client console
	TypeConsoleMessage byte = 0x0E
	// TypeFin signals the end of a build artifact stream
	TypeFin byte = 0x0F
)

// TypeName returns a human-readable name for a type code, for logging.
func TypeName(code byte) string {
	switch code {
	case TypeInit:
		return "init"
	case TypeFileChange:
		return "file-change"
	case TypeFileDelete:
		return "file-delete"
	case TypeFileCheck:
		return "file-check"
	case TypeFileSync:
		return "file-sync"
	case TypeCheckFileCount:
		return "check-file-count"
	case TypeDevelopment:
		return "development"
	case TypeBuild:
		return "build"
	case TypeSyncHashSet:
		return "sync-hash-set"
	case TypeInitDone:
		return "init-done"
	case TypeFileUpdateNeeded:
		return "file-update-needed"
	case TypeCheckOff:
		return "check-off"
	case TypeDevServerStart:
		return "dev-server-start"
	case TypeBuildFileSync:
		return "build-file-sync"
	case TypeConsoleMessage:
		return "console-message"
	case TypeFin:
		return "fin"
	default:
		return "unknown"
	}
}
