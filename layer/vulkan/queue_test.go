package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFenceSubmissionState(t *testing.T) {
	f := newFakeDriver(t)
	q := f.queue()

	signaled := f.fence(true)
	assert.Equal(t, ErrorValidationFailed, f.submit(q, signaled))
	assert.Equal(t, []Code{CodeFenceSignaled}, f.codes())

	f.clear()
	require.False(t, f.dev.ValidateResetFences([]Fence{signaled}))
	f.dev.RecordResetFences(vk.Success, []Fence{signaled})
	require.Equal(t, vk.Success, f.submit(q, signaled))
	f.requireClean()

	// in flight until someone waits on it
	assert.True(t, f.dev.ValidateResetFences([]Fence{signaled}))
	assert.True(t, f.dev.ValidateDestroyFence(signaled))
	assert.Equal(t, []Code{CodeFenceInUse, CodeFenceInUse}, f.codes())

	f.clear()
	require.False(t, f.dev.ValidateGetFenceStatus(signaled))
	f.dev.RecordGetFenceStatus(vk.Success, signaled)
	assert.False(t, f.dev.ValidateDestroyFence(signaled))
	f.requireClean()
}

func TestSemaphoreSignalAndWait(t *testing.T) {
	f := newFakeDriver(t)
	q := f.queue()
	s := f.semaphore()

	assert.Equal(t, ErrorValidationFailed, f.submit(q, 0, SubmitInfo{WaitSemaphores: []Semaphore{s}}))
	assert.Equal(t, []Code{CodeSemaphoreNeverSignaled}, f.codes())

	// a signal earlier in the same submission satisfies the wait
	f.clear()
	require.Equal(t, vk.Success, f.submit(q, 0,
		SubmitInfo{SignalSemaphores: []Semaphore{s}},
		SubmitInfo{WaitSemaphores: []Semaphore{s}}))
	f.requireClean()

	require.Equal(t, vk.Success, f.submit(q, 0, SubmitInfo{SignalSemaphores: []Semaphore{s}}))
	assert.Equal(t, ErrorValidationFailed, f.submit(q, 0, SubmitInfo{SignalSemaphores: []Semaphore{s}}))
	assert.Equal(t, []Code{CodeSemaphoreAlreadySignaled}, f.codes())
}

func TestWaitsThatCanNeverComplete(t *testing.T) {
	f := newFakeDriver(t)
	q := f.queue()
	s := f.semaphore()
	fence := f.fence(false)

	// recorded without validation, as an application ignoring the error would
	submits := []SubmitInfo{{WaitSemaphores: []Semaphore{s}, CommandBuffers: []CommandBuffer{f.recorded()}}}
	f.dev.RecordQueueSubmit(vk.Success, q, submits, fence)

	assert.True(t, f.dev.ValidateQueueWaitIdle(q))
	assert.True(t, f.dev.ValidateWaitForFences([]Fence{fence}, true))
	assert.True(t, f.dev.ValidateDeviceWaitIdle())
	assert.Equal(t, []Code{CodeQueueForwardProgress, CodeQueueForwardProgress, CodeQueueForwardProgress}, f.codes())
	assert.Contains(t, f.messages(CodeQueueForwardProgress)[0], "can never complete")
}

func TestWaitRetiresAcrossQueues(t *testing.T) {
	f := newFakeDriver(t)
	producer, consumer := f.queue(), f.queue()
	s := f.semaphore()
	fence := f.fence(false)

	first, second := f.recorded(), f.recorded()
	require.Equal(t, vk.Success, f.submit(producer, 0,
		SubmitInfo{CommandBuffers: []CommandBuffer{first}, SignalSemaphores: []Semaphore{s}}))
	require.Equal(t, vk.Success, f.submit(consumer, fence,
		SubmitInfo{WaitSemaphores: []Semaphore{s}, CommandBuffers: []CommandBuffer{second}}))
	f.requireState(first, COMMAND_BUFFER_STATE_PENDING)

	// the consumer finishing means the producer got past the signal
	require.Equal(t, vk.Success, f.waitForFences(fence))
	f.requireState(second, COMMAND_BUFFER_STATE_EXECUTABLE)
	f.requireState(first, COMMAND_BUFFER_STATE_EXECUTABLE)

	require.False(t, f.dev.ValidateDestroySemaphore(s))
	f.requireClean()
}

func TestWaitEventsStageMask(t *testing.T) {
	f := newFakeDriver(t)
	q := f.queue()
	e := Event(f.handle())
	f.dev.RecordCreateEvent(vk.Success, e)

	record := func(src vk.PipelineStageFlagBits) CommandBuffer {
		cb := f.commandBuffer(vk.CommandBufferLevelPrimary)
		require.Equal(t, vk.Success, f.begin(cb, 0))
		require.False(t, f.dev.ValidateCmdSetEvent(cb, e, vk.PipelineStageFlags(vk.PipelineStageTransferBit)))
		f.dev.RecordCmdSetEvent(cb, e, vk.PipelineStageFlags(vk.PipelineStageTransferBit))
		info := PipelineBarrierInfo{
			SrcStageMask: vk.PipelineStageFlags(src),
			DstStageMask: vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		}
		require.False(t, f.dev.ValidateCmdWaitEvents(cb, []Event{e}, info))
		f.dev.RecordCmdWaitEvents(cb, []Event{e}, info)
		require.Equal(t, vk.Success, f.end(cb))
		return cb
	}

	wrong := record(vk.PipelineStageTopOfPipeBit)
	assert.Equal(t, ErrorValidationFailed, f.submit(q, 0, SubmitInfo{CommandBuffers: []CommandBuffer{wrong}}))
	assert.Equal(t, []Code{CodeEventStageMismatch}, f.codes())

	f.clear()
	right := record(vk.PipelineStageTransferBit)
	assert.Equal(t, vk.Success, f.submit(q, 0, SubmitInfo{CommandBuffers: []CommandBuffer{right}}))
	f.requireClean()

	// the event is referenced by pending work
	assert.True(t, f.dev.ValidateSetEvent(e))
	assert.Equal(t, []Code{CodeObjectInUse}, f.codes())
}

func TestQueryAvailability(t *testing.T) {
	f := newFakeDriver(t)
	q := f.queue()
	pool := QueryPool(f.handle())
	f.dev.RecordCreateQueryPool(vk.Success, pool, QueryPoolCreateInfo{QueryType: vk.QueryTypeTimestamp, QueryCount: 4})

	assert.True(t, f.dev.ValidateGetQueryPoolResults(pool, 0, 1, 0))
	assert.Equal(t, []Code{CodeQueryNotAvailable}, f.codes())

	f.clear()
	assert.False(t, f.dev.ValidateGetQueryPoolResults(pool, 0, 1, vk.QueryResultFlags(vk.QueryResultWaitBit)))
	assert.True(t, f.dev.ValidateGetQueryPoolResults(pool, 3, 2, 0))
	assert.Equal(t, []Code{CodeInvalidQuery}, f.codes())

	f.clear()
	cb := f.commandBuffer(vk.CommandBufferLevelPrimary)
	require.Equal(t, vk.Success, f.begin(cb, 0))
	require.False(t, f.dev.ValidateCmdResetQueryPool(cb, pool, 0, 4))
	f.dev.RecordCmdResetQueryPool(cb, pool, 0, 4)
	require.False(t, f.dev.ValidateCmdWriteTimestamp(cb, vk.PipelineStageBottomOfPipeBit, pool, 0))
	f.dev.RecordCmdWriteTimestamp(cb, vk.PipelineStageBottomOfPipeBit, pool, 0)

	assert.True(t, f.dev.ValidateCmdEndQuery(cb, pool, 1))
	assert.Equal(t, []Code{CodeInvalidQuery}, f.codes())
	f.clear()

	require.Equal(t, vk.Success, f.end(cb))
	require.Equal(t, vk.Success, f.submit(q, 0, SubmitInfo{CommandBuffers: []CommandBuffer{cb}}))
	f.requireClean()

	assert.False(t, f.dev.ValidateGetQueryPoolResults(pool, 0, 1, 0))
	assert.True(t, f.dev.ValidateGetQueryPoolResults(pool, 0, 2, 0))
	assert.Equal(t, []Code{CodeQueryNotAvailable}, f.codes())
	assert.Contains(t, f.messages(CodeQueryNotAvailable)[0], "index 1")

	// copying a query that was reset and never written is caught at submit
	f.clear()
	mem := f.allocate(4096, memoryTypeDeviceLocal)
	dst := f.buffer(256, vk.BufferUsageTransferDstBit)
	require.Equal(t, vk.Success, f.bindBuffer(dst, mem, 0))
	copyCB := f.commandBuffer(vk.CommandBufferLevelPrimary)
	require.Equal(t, vk.Success, f.begin(copyCB, 0))
	require.False(t, f.dev.ValidateCmdCopyQueryPoolResults(copyCB, pool, 2, 1, dst, 0))
	f.dev.RecordCmdCopyQueryPoolResults(copyCB, pool, 2, 1, dst, 0)
	require.Equal(t, vk.Success, f.end(copyCB))
	assert.Equal(t, ErrorValidationFailed, f.submit(q, 0, SubmitInfo{CommandBuffers: []CommandBuffer{copyCB}}))
	assert.Equal(t, []Code{CodeQueryNotAvailable}, f.codes())
}

func (f *fakeDriver) swapchain(images int, minImages uint32) (Swapchain, []Image) {
	sc := Swapchain(f.handle())
	f.dev.RecordCreateSwapchain(vk.Success, sc, SwapchainCreateInfo{
		Format:        vk.FormatB8g8r8a8Unorm,
		Extent:        vk.Extent2D{Width: 64, Height: 64},
		ImageUsage:    vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		MinImageCount: minImages,
	})
	out := make([]Image, images)
	for i := range out {
		out[i] = Image(f.handle())
	}
	f.dev.RecordGetSwapchainImages(vk.Success, sc, out)
	return sc, out
}

func (f *fakeDriver) acquire(sc Swapchain, s Semaphore, index uint32) {
	f.t.Helper()
	require.False(f.t, f.dev.ValidateAcquireNextImage(sc, s, 0))
	f.dev.RecordAcquireNextImage(vk.Success, sc, s, 0, index)
}

func TestPresentRequiresAcquiredImages(t *testing.T) {
	f := newFakeDriver(t)
	q := f.queue()
	sc, _ := f.swapchain(3, 2)

	assert.True(t, f.dev.ValidateQueuePresent(q, PresentInfo{Swapchains: []Swapchain{sc}, ImageIndices: []uint32{0}}))
	assert.True(t, f.dev.ValidateQueuePresent(q, PresentInfo{Swapchains: []Swapchain{sc}, ImageIndices: []uint32{5}}))
	assert.Equal(t, []Code{CodeImageNotAcquired, CodeSwapchainImageIndex}, f.codes())

	f.clear()
	s := f.semaphore()
	f.acquire(sc, s, 1)
	present := PresentInfo{WaitSemaphores: []Semaphore{s}, Swapchains: []Swapchain{sc}, ImageIndices: []uint32{1}}
	require.False(t, f.dev.ValidateQueuePresent(q, present))
	f.dev.RecordQueuePresent(vk.Success, q, present)
	f.requireClean()

	// presented images go back to the engine
	assert.True(t, f.dev.ValidateQueuePresent(q, PresentInfo{Swapchains: []Swapchain{sc}, ImageIndices: []uint32{1}}))
	assert.Equal(t, []Code{CodeImageNotAcquired}, f.codes())
}

func TestAcquireLimits(t *testing.T) {
	f := newFakeDriver(t)
	sc, images := f.swapchain(3, 2)

	f.acquire(sc, 0, 0)
	f.acquire(sc, 0, 1)
	assert.True(t, f.dev.ValidateAcquireNextImage(sc, 0, 0))
	assert.Equal(t, []Code{CodeTooManyImagesAcquired}, f.codes())

	f.clear()
	s := f.semaphore()
	other, _ := f.swapchain(3, 1)
	f.acquire(other, s, 0)
	assert.True(t, f.dev.ValidateAcquireNextImage(other, s, 0))
	assert.Equal(t, []Code{CodeSemaphoreAlreadySignaled}, f.codes())

	f.clear()
	mem := f.allocate(1<<16, memoryTypeDeviceLocal)
	assert.Equal(t, ErrorValidationFailed, f.bindImage(images[2], mem, 0))
	assert.Contains(t, f.codes(), CodeSwapchainImageNotBindable)
}
