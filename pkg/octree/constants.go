package octree

import (
	"realmsdb/pkg/entry"
	"realmsdb/pkg/pager"
)

// Sentinel byte that ends the banner.
const BannerEnd byte = 0x1A

// Absent child marker, also the first word of a leaf directory.
const NoBlock int32 = -1

// Block sizes.
const (
	NodeSize   int64 = 32                // One block: 8 int32 words
	NodeWords        = 8                 // Words in a block
	EntrySize  int64 = entry.Size        // One entry record
	RootSize   int64 = 96                // Root region: bounds, count and one node block, padded
	MaxHeader        = pager.Pagesize    // The banner and root region must fit in the first page
)

// Root region offsets.
const (
	rootBoundsOffset int64 = 0
	rootCountOffset  int64 = 48
	rootNodeOffset   int64 = 52
)

// Leaf directory word positions.
const (
	leafEntryBlockWord = 1
	leafCountWord      = 2
	leafPadStartWord   = 3
)

// Octant indices. Bit 0 selects the upper x half, bit 1 the upper y half and
// bit 2 the upper z half.
const (
	XLYLZL = iota
	XHYLZL
	XLYHZL
	XHYHZL
	XLYLZH
	XHYLZH
	XLYHZH
	XHYHZH
)
