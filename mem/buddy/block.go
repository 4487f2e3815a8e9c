package buddy

import (
	"github.com/joshuapare/gpumem/internal/ilist"
	"github.com/joshuapare/gpumem/internal/pow2"
	"github.com/joshuapare/gpumem/mem"
)

// block is a buddy tree node. Allocated blocks are indexed by offset;
// free blocks live on their level's list and offset map.
type block struct {
	mem.Block
	level int
	node  ilist.Node[*block]
}

// freeLevel holds the free blocks of one level: a LIFO list for
// deterministic pop order and an offset map for O(1) buddy lookup.
type freeLevel struct {
	list     ilist.List[*block]
	byOffset map[uint64]*block
}

// BlockAllocator is a buddy allocator over the range [0, maxSize).
// Level l holds blocks of size maxSize>>l; level 0 is the whole range
// and the deepest level holds minSize blocks. It is purely arithmetic:
// allocation failure means no block of sufficient size is free, never
// that memory could not be created.
type BlockAllocator struct {
	maxSize uint64
	minSize uint64
	levels  []freeLevel

	// alloc indexes outstanding blocks by offset. Live ranges are
	// disjoint, so the offset is a unique key.
	alloc map[uint64]*block
}

// NewBlockAllocator creates a buddy allocator over [0, maxSize) with a
// minimum block size of minSize. Both must be powers of two.
func NewBlockAllocator(maxSize, minSize uint64) (*BlockAllocator, error) {
	if !pow2.IsPowerOfTwo(maxSize) {
		return nil, mem.InvalidArgumentf("buddy: max size must be a power of two, got %d", maxSize)
	}
	if !pow2.IsPowerOfTwo(minSize) {
		return nil, mem.InvalidArgumentf("buddy: min block size must be a power of two, got %d", minSize)
	}
	if minSize > maxSize {
		return nil, mem.InvalidArgumentf("buddy: min block size %d exceeds max size %d", minSize, maxSize)
	}

	numLevels := pow2.Log2(maxSize) - pow2.Log2(minSize) + 1
	a := &BlockAllocator{
		maxSize: maxSize,
		minSize: minSize,
		levels:  make([]freeLevel, numLevels),
		alloc:   make(map[uint64]*block),
	}
	for i := range a.levels {
		a.levels[i].byOffset = make(map[uint64]*block)
	}

	root := &block{Block: mem.Block{Offset: 0, Size: maxSize}, level: 0}
	root.node.Value = root
	a.pushFree(root)
	return a, nil
}

// MaxSize returns the size of the managed range.
func (a *BlockAllocator) MaxSize() uint64 { return a.maxSize }

// MinSize returns the minimum block size.
func (a *BlockAllocator) MinSize() uint64 { return a.minSize }

func (a *BlockAllocator) levelForSize(blockSize uint64) int {
	return int(pow2.Log2(a.maxSize) - pow2.Log2(blockSize))
}

func (a *BlockAllocator) pushFree(b *block) {
	fl := &a.levels[b.level]
	fl.list.PushFront(&b.node)
	fl.byOffset[b.Offset] = b
}

func (a *BlockAllocator) removeFree(b *block) {
	fl := &a.levels[b.level]
	fl.list.Remove(&b.node)
	delete(fl.byOffset, b.Offset)
}

// Allocate returns a block of at least max(size, alignment, minSize)
// bytes, rounded up to a power of two. The returned offset is aligned
// to the block size.
func (a *BlockAllocator) Allocate(size, alignment uint64) (*mem.Block, error) {
	if size == 0 {
		return nil, mem.InvalidArgumentf("buddy: zero-size request")
	}
	want := size
	if alignment > want {
		want = alignment
	}
	if a.minSize > want {
		want = a.minSize
	}
	blockSize := pow2.NextPowerOfTwo(want)
	if blockSize > a.maxSize {
		return nil, mem.OutOfMemoryf("buddy: request of %d bytes exceeds range of %d", size, a.maxSize)
	}

	// Best fit: the deepest level at or above the target with a free
	// block. The target level is an exact fit; shallower levels hold
	// larger blocks that will be split down.
	target := a.levelForSize(blockSize)
	level := target
	for level >= 0 && a.levels[level].list.Len() == 0 {
		level--
	}
	if level < 0 {
		return nil, mem.OutOfMemoryf("buddy: no free block of %d bytes", blockSize)
	}

	b := a.levels[level].list.Front().Value
	a.removeFree(b)

	// Split until the block is the target size. The lower half stays
	// the candidate; the upper half becomes a free buddy one level down.
	for b.level < target {
		b.level++
		half := b.Size / 2
		buddyBlock := &block{
			Block: mem.Block{Offset: b.Offset + half, Size: half},
			level: b.level,
		}
		buddyBlock.node.Value = buddyBlock
		b.Size = half
		a.pushFree(buddyBlock)
	}

	a.alloc[b.Offset] = b
	return &b.Block, nil
}

// Deallocate returns a block to the free lists, coalescing with its
// buddy as far up the tree as possible. Passing a block this allocator
// did not produce is a programming error.
func (a *BlockAllocator) Deallocate(blk *mem.Block) {
	b, ok := a.alloc[blk.Offset]
	if !ok || &b.Block != blk {
		panic("buddy: deallocate of unknown block")
	}
	delete(a.alloc, blk.Offset)

	for b.level > 0 {
		buddyOffset := b.Offset ^ b.Size
		bud, ok := a.levels[b.level].byOffset[buddyOffset]
		if !ok || bud.Size != b.Size {
			break
		}
		a.removeFree(bud)
		if buddyOffset < b.Offset {
			b.Offset = buddyOffset
		}
		b.Size *= 2
		b.level--
	}
	a.pushFree(b)
}

// freeBlockCount returns the number of free blocks across all levels,
// for invariant checks in tests.
func (a *BlockAllocator) freeBlockCount() int {
	n := 0
	for i := range a.levels {
		n += a.levels[i].list.Len()
	}
	return n
}

// liveBlockCount returns the number of outstanding blocks.
func (a *BlockAllocator) liveBlockCount() int {
	return len(a.alloc)
}
