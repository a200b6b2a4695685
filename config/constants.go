package config

import "github.com/brettbedarf/simos/internal/util"

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultLogLvl = util.InfoLevel

	// DefaultStorePath is where the file system tree is persisted. The
	// extension selects the snapshot encoding (.yaml, .yml or .json)
	DefaultStorePath = "simos-fs.yaml"

	// DefaultFrameCount is the number of physical frames in the pool
	DefaultFrameCount = 256

	// DefaultFrameSize is the size of one frame (and page) in bytes
	DefaultFrameSize = 4096

	// DefaultEvictionEnabled runs FIFO eviction when the pool is exhausted
	DefaultEvictionEnabled = true

	// DefaultRecursiveDelete allows deleting non-empty directories
	DefaultRecursiveDelete = false

	// DefaultPriority is assigned to processes created without a priority
	DefaultPriority = 1

	// DefaultTerminatedLogSize is the number of terminated PCBs retained for history
	DefaultTerminatedLogSize = 64
)

// DefaultSeedDirs are created on a fresh file system
var DefaultSeedDirs = []string{"/bin", "/etc", "/home", "/tmp", "/var"}

// CLI verbosity levels; 1 (error) through 5 (trace)
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// VerboseToLogLevel converts a CLI verbosity (clamped to 1..5) to a [util.LogLevel]
func VerboseToLogLevel(verbose int) util.LogLevel {
	logLvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	return logLvls[util.Clamp(verbose, ErrorVerbose, TraceVerbose)-1]
}
