package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fakeDriver) mapMemory(mem DeviceMemory, offset, size uint64, driver []byte) []byte {
	f.t.Helper()
	require.False(f.t, f.dev.ValidateMapMemory(mem, offset, size))
	return f.dev.RecordMapMemory(vk.Success, mem, offset, size, driver)
}

func TestCoherentMappingIsHandedThrough(t *testing.T) {
	f := newFakeDriver(t)
	mem := f.allocate(256, memoryTypeHostCoherent)
	driver := make([]byte, 256)

	out := f.mapMemory(mem, 0, WholeSize, driver)
	require.Len(t, out, 256)
	out[7] = 0x42
	assert.Equal(t, byte(0x42), driver[7])

	assert.False(t, f.dev.ValidateUnmapMemory(mem))
	f.dev.RecordUnmapMemory(mem)
	f.requireClean()
}

func TestNonCoherentMappingIsShadowed(t *testing.T) {
	f := newFakeDriver(t)
	mem := f.allocate(256, memoryTypeHostCached)
	driver := make([]byte, 128)
	driver[0] = 0x11

	out := f.mapMemory(mem, 64, 128, driver)
	require.Len(t, out, 128)
	assert.Equal(t, byte(0x11), out[0], "shadow starts with the driver contents")

	out[1] = 0xaa
	assert.Equal(t, byte(0), driver[1], "writes stay in the shadow until flushed")

	ranges := []MappedMemoryRange{{Memory: mem, Offset: 64, Size: 128}}
	require.False(t, f.dev.ValidateFlushMappedMemoryRanges(ranges))
	assert.Equal(t, byte(0xaa), driver[1])

	// the driver side changes and an invalidate brings it back into the shadow
	driver[2] = 0xbb
	require.False(t, f.dev.ValidateInvalidateMappedMemoryRanges(ranges))
	f.dev.RecordInvalidateMappedMemoryRanges(vk.Success, ranges)
	assert.Equal(t, byte(0xbb), out[2])
	f.requireClean()
}

func TestGuardOverwriteIsDetected(t *testing.T) {
	f := newFakeDriver(t)
	mem := f.allocate(256, memoryTypeHostCached)
	driver := make([]byte, 256)
	out := f.mapMemory(mem, 0, WholeSize, driver)

	// one byte past the end, still inside the shadow allocation
	past := out[:cap(out)]
	require.Greater(t, len(past), len(out))
	past[len(out)] = 0

	ranges := []MappedMemoryRange{{Memory: mem, Offset: 0, Size: WholeSize}}
	assert.True(t, f.dev.ValidateFlushMappedMemoryRanges(ranges))
	require.Equal(t, []Code{CodeMapGuardOverwritten}, f.codes())
	assert.Contains(t, f.messages(CodeMapGuardOverwritten)[0], "overflow")

	f.clear()
	assert.True(t, f.dev.ValidateUnmapMemory(mem))
	assert.Equal(t, []Code{CodeMapGuardOverwritten}, f.codes())
}

func TestMapMemoryChecks(t *testing.T) {
	f := newFakeDriver(t)
	local := f.allocate(256, memoryTypeDeviceLocal)
	assert.True(t, f.dev.ValidateMapMemory(local, 0, WholeSize))
	assert.Equal(t, []Code{CodeMemoryNotHostVisible}, f.codes())

	f.clear()
	mem := f.allocate(256, memoryTypeHostCoherent)
	assert.True(t, f.dev.ValidateMapMemory(mem, 0, 0))
	assert.True(t, f.dev.ValidateMapMemory(mem, 256, WholeSize))
	assert.True(t, f.dev.ValidateMapMemory(mem, 128, 256))
	assert.Equal(t, []Code{CodeInvalidMapRange, CodeInvalidMapRange, CodeInvalidMapRange}, f.codes())

	f.clear()
	f.mapMemory(mem, 0, WholeSize, make([]byte, 256))
	assert.True(t, f.dev.ValidateMapMemory(mem, 0, WholeSize))
	assert.Equal(t, []Code{CodeMemoryAlreadyMapped}, f.codes())

	f.clear()
	f.dev.RecordUnmapMemory(mem)
	assert.True(t, f.dev.ValidateUnmapMemory(mem))
	assert.True(t, f.dev.ValidateFlushMappedMemoryRanges([]MappedMemoryRange{{Memory: mem, Size: WholeSize}}))
	assert.Equal(t, []Code{CodeMemoryNotMapped, CodeMemoryNotMapped}, f.codes())
}

func TestFlushRangeMustLieInsideTheMapping(t *testing.T) {
	f := newFakeDriver(t)
	mem := f.allocate(1024, memoryTypeHostCoherent)
	f.mapMemory(mem, 256, 256, make([]byte, 256))

	assert.True(t, f.dev.ValidateFlushMappedMemoryRanges([]MappedMemoryRange{{Memory: mem, Offset: 128, Size: 64}}))
	assert.True(t, f.dev.ValidateFlushMappedMemoryRanges([]MappedMemoryRange{{Memory: mem, Offset: 256, Size: 512}}))
	assert.Equal(t, []Code{CodeInvalidFlushRange, CodeInvalidFlushRange}, f.codes())

	f.clear()
	assert.False(t, f.dev.ValidateFlushMappedMemoryRanges([]MappedMemoryRange{{Memory: mem, Offset: 256, Size: WholeSize}}))
	f.requireClean()
}
