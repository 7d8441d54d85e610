package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindingIsImmutable(t *testing.T) {
	f := newFakeDriver(t)
	mem := f.allocate(4096, memoryTypeDeviceLocal)
	other := f.allocate(4096, memoryTypeDeviceLocal)
	buf := f.buffer(256, vk.BufferUsageTransferSrcBit)

	require.Equal(t, vk.Success, f.bindBuffer(buf, mem, 512))
	f.requireClean()

	assert.Equal(t, ErrorValidationFailed, f.bindBuffer(buf, other, 0))
	assert.Equal(t, 1, f.count(CodeAlreadyBound))

	info, ok := f.dev.BufferBinding(buf)
	require.True(t, ok)
	assert.True(t, info.Bound)
	assert.Equal(t, mem, info.Memory)
	assert.Equal(t, uint64(512), info.Offset)
	assert.Equal(t, uint64(256), info.Size)
	assert.Empty(t, f.dev.MemoryRanges(other))

	// still immutable after the memory is gone
	f.clear()
	require.Equal(t, vk.Success, f.free(mem))
	assert.Equal(t, ErrorValidationFailed, f.bindBuffer(buf, other, 0))
	assert.Equal(t, []Code{CodeAlreadyBound}, f.codes())
}

func TestBindValidatesPlacement(t *testing.T) {
	f := newFakeDriver(t)
	mem := f.allocate(1024, memoryTypeDeviceLocal)

	tooBig := f.buffer(2048, vk.BufferUsageTransferSrcBit)
	assert.Equal(t, ErrorValidationFailed, f.bindBuffer(tooBig, mem, 0))
	assert.Equal(t, 1, f.count(CodeSizeExceedsAllocation))

	f.clear()
	misaligned := f.buffer(64, vk.BufferUsageTransferSrcBit)
	assert.Equal(t, ErrorValidationFailed, f.bindBuffer(misaligned, mem, 8))
	assert.Equal(t, 1, f.count(CodeMisalignedOffset))

	f.clear()
	past := f.buffer(64, vk.BufferUsageTransferSrcBit)
	assert.Equal(t, ErrorValidationFailed, f.bindBuffer(past, mem, 1024))
	assert.Equal(t, 1, f.count(CodeOffsetOutOfRange))

	f.clear()
	wrongType := f.buffer(64, vk.BufferUsageTransferSrcBit)
	f.dev.RecordGetBufferMemoryRequirements(wrongType, vk.MemoryRequirements{Size: 64, Alignment: 16, MemoryTypeBits: 1 << memoryTypeHostCoherent})
	assert.Equal(t, ErrorValidationFailed, f.bindBuffer(wrongType, mem, 0))
	assert.Equal(t, 1, f.count(CodeMemoryTypeMismatch))
}

func TestAliasesAreSymmetric(t *testing.T) {
	f := newFakeDriver(t)
	mem := f.allocate(8192, memoryTypeDeviceLocal)
	a := f.buffer(256, vk.BufferUsageTransferSrcBit)
	b := f.buffer(256, vk.BufferUsageTransferSrcBit)
	c := f.buffer(256, vk.BufferUsageTransferSrcBit)

	require.Equal(t, vk.Success, f.bindBuffer(a, mem, 0))
	require.Equal(t, vk.Success, f.bindBuffer(b, mem, 128))
	require.Equal(t, vk.Success, f.bindBuffer(c, mem, 4096))
	f.requireClean()

	ranges := f.dev.MemoryRanges(mem)
	require.Len(t, ranges, 3)
	assert.Equal(t, Ref(a), ranges[0].Owner)
	assert.Equal(t, uint64(0), ranges[0].Start)
	assert.Equal(t, uint64(255), ranges[0].End)
	assert.Equal(t, []ObjectRef{Ref(b)}, ranges[0].Aliases)
	assert.Equal(t, Ref(b), ranges[1].Owner)
	assert.Equal(t, []ObjectRef{Ref(a)}, ranges[1].Aliases)
	assert.Empty(t, ranges[2].Aliases)

	require.False(t, f.dev.ValidateDestroyBuffer(b))
	f.dev.RecordDestroyBuffer(b)

	ranges = f.dev.MemoryRanges(mem)
	require.Len(t, ranges, 2)
	for _, r := range ranges {
		assert.Empty(t, r.Aliases, "%s still aliased", r.Owner)
	}
}

func TestLinearAndOptimalShareAGranularityPage(t *testing.T) {
	f := newFakeDriver(t)
	mem := f.allocate(8192, memoryTypeDeviceLocal)

	// 512 bytes at 2048 and 16 bytes at 2560 never touch, but they share a 1024 byte page
	img := f.image(16, 8, vk.FormatR8g8b8a8Unorm, vk.ImageTilingOptimal, vk.ImageUsageSampledBit)
	buf := f.buffer(16, vk.BufferUsageTransferSrcBit)
	require.Equal(t, vk.Success, f.bindImage(img, mem, 2048))
	require.Equal(t, vk.Success, f.bindBuffer(buf, mem, 2560))

	assert.Equal(t, 1, f.count(CodeInvalidAliasing))
	ranges := f.dev.MemoryRanges(mem)
	require.Len(t, ranges, 2)
	assert.Equal(t, []ObjectRef{Ref(buf)}, ranges[0].Aliases)
	assert.False(t, ranges[0].Linear)
	assert.Equal(t, []ObjectRef{Ref(img)}, ranges[1].Aliases)
	assert.True(t, ranges[1].Linear)

	// two linear ranges on the same page do not alias, so the next buffer only meets the image
	f.clear()
	next := f.buffer(16, vk.BufferUsageTransferSrcBit)
	require.Equal(t, vk.Success, f.bindBuffer(next, mem, 2576))
	assert.Equal(t, 1, f.count(CodeInvalidAliasing))
	ranges = f.dev.MemoryRanges(mem)
	require.Len(t, ranges, 3)
	assert.Equal(t, []ObjectRef{Ref(img)}, ranges[2].Aliases)
	assert.Equal(t, []ObjectRef{Ref(img)}, ranges[1].Aliases)
}

func TestFreedMemoryIsToldApartFromNeverBound(t *testing.T) {
	f := newFakeDriver(t)
	mem := f.allocate(4096, memoryTypeDeviceLocal)
	src := f.buffer(256, vk.BufferUsageTransferSrcBit)
	dst := f.buffer(256, vk.BufferUsageTransferDstBit)
	require.Equal(t, vk.Success, f.bindBuffer(src, mem, 0))
	require.Equal(t, vk.Success, f.free(mem))
	f.requireClean()

	info, ok := f.dev.BufferBinding(src)
	require.True(t, ok)
	assert.True(t, info.Freed)
	assert.False(t, info.Bound)

	cb := f.commandBuffer(vk.CommandBufferLevelPrimary)
	require.Equal(t, vk.Success, f.begin(cb, 0))
	regions := []vk.BufferCopy{{Size: 64}}
	assert.True(t, f.dev.ValidateCmdCopyBuffer(cb, src, dst, regions))
	assert.Equal(t, []Code{CodeBoundMemoryFreed, CodeMemoryNotBound}, f.codes())
}

func TestFreeingMemoryInvalidatesRecordings(t *testing.T) {
	f := newFakeDriver(t)
	mem := f.allocate(4096, memoryTypeDeviceLocal)
	src := f.buffer(256, vk.BufferUsageTransferSrcBit)
	dst := f.buffer(256, vk.BufferUsageTransferDstBit)
	require.Equal(t, vk.Success, f.bindBuffer(src, mem, 0))
	require.Equal(t, vk.Success, f.bindBuffer(dst, mem, 1024))

	cb := f.commandBuffer(vk.CommandBufferLevelPrimary)
	require.Equal(t, vk.Success, f.begin(cb, 0))
	regions := []vk.BufferCopy{{Size: 64}}
	require.False(t, f.dev.ValidateCmdCopyBuffer(cb, src, dst, regions))
	f.dev.RecordCmdCopyBuffer(cb, src, dst, regions)
	require.Equal(t, vk.Success, f.end(cb))
	f.requireState(cb, COMMAND_BUFFER_STATE_EXECUTABLE)

	require.Equal(t, vk.Success, f.free(mem))
	f.requireState(cb, COMMAND_BUFFER_STATE_INVALID)

	q := f.queue()
	assert.Equal(t, ErrorValidationFailed, f.submit(q, 0, SubmitInfo{CommandBuffers: []CommandBuffer{cb}}))
	assert.Equal(t, 1, f.count(CodeUsesInvalidatedObject))
}

func TestReadBeforeWriteIsReportedAtSubmit(t *testing.T) {
	f := newFakeDriver(t)
	mem := f.allocate(4096, memoryTypeDeviceLocal)
	src := f.buffer(256, vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit)
	dst := f.buffer(256, vk.BufferUsageTransferDstBit)
	require.Equal(t, vk.Success, f.bindBuffer(src, mem, 0))
	require.Equal(t, vk.Success, f.bindBuffer(dst, mem, 1024))
	q := f.queue()

	regions := []vk.BufferCopy{{Size: 64}}
	read := f.commandBuffer(vk.CommandBufferLevelPrimary)
	require.Equal(t, vk.Success, f.begin(read, 0))
	require.False(t, f.dev.ValidateCmdCopyBuffer(read, src, dst, regions))
	f.dev.RecordCmdCopyBuffer(read, src, dst, regions)
	require.Equal(t, vk.Success, f.end(read))
	f.requireClean()

	// nothing wrote src yet
	assert.Equal(t, vk.Success, f.submit(q, 0, SubmitInfo{CommandBuffers: []CommandBuffer{read}}))
	assert.Equal(t, []Code{CodeReadBeforeWrite}, f.codes())

	// a fill ahead of the copy in the same submission makes it valid
	f.clear()
	require.Equal(t, vk.Success, Intercept(
		func() bool { return f.dev.ValidateQueueWaitIdle(q) }, succeed,
		func(r vk.Result) { f.dev.RecordQueueWaitIdle(r, q) }))
	fill := f.commandBuffer(vk.CommandBufferLevelPrimary)
	require.Equal(t, vk.Success, f.begin(fill, 0))
	require.False(t, f.dev.ValidateCmdFillBuffer(fill, src, 0, 256))
	f.dev.RecordCmdFillBuffer(fill, src, 0, 256)
	require.Equal(t, vk.Success, f.end(fill))

	read2 := f.commandBuffer(vk.CommandBufferLevelPrimary)
	require.Equal(t, vk.Success, f.begin(read2, 0))
	f.dev.RecordCmdCopyBuffer(read2, src, dst, regions)
	require.Equal(t, vk.Success, f.end(read2))

	assert.Equal(t, vk.Success, f.submit(q, 0, SubmitInfo{CommandBuffers: []CommandBuffer{fill, read2}}))
	f.requireClean()
}
