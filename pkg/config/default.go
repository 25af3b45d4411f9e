// Global database config.
package config

// Name of the database.
const DBName = "realmsdb"

// Prompt printed by REPL.
const Prompt = DBName + "> "

// The maximum number of pages that can be in the pager's buffer at once.
const MaxPagesInBuffer = 32

// Name of log file, relative to the data directory.
const LogFileName = "realmsdb.log"

// Edge length of one world cube.
const DefaultCubeEdge = 64.0

// Universe used by the REPL's scratch id set.
const DefaultUniverse = 6400

// Number of decoded blob records kept in the store's read cache.
const DefaultCacheSize = 256

// Banner written at the head of octree index files.
const DefaultBanner = "realmsdb spatial index v1"

// Extension of octree index files inside the data directory.
const IndexExt = ".3dex"

// Sub-directory of the data directory holding the blob store.
const BlobDir = "blobs"

// Octree builder limits.
const (
	DefaultMaxPerVoxel = 16
	DefaultMaxDepth    = 12
)

// Return prompt if requested, else "".
func GetPrompt(flag bool) string {
	if flag {
		return Prompt
	}
	return ""
}
