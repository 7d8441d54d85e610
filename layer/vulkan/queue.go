package vulkan

import (
	"sort"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/containers"
	"github.com/spaghettifunk/vkcheck/layer/core"
)

// syncPoint is a position in the submission stream of a queue.
type syncPoint struct {
	queue Queue
	seq   uint64
}

// semaphoreWait is what a submission waits for. A zero queue marks a wait nothing can satisfy.
type semaphoreWait struct {
	semaphore Semaphore
	syncPoint
}

type submission struct {
	seq     uint64
	cbs     []CommandBuffer
	waits   []semaphoreWait
	signals []Semaphore
	fence   Fence
}

type queueState struct {
	handle Queue
	family uint32
	// sequence number of the last submission made to this queue
	seq         uint64
	submissions *containers.RingQueue[*submission]
	eventStages map[Event]vk.PipelineStageFlags
	queryStates map[QueryObject]bool
}

// retired is the sequence number of the last submission known to be complete.
func (q *queueState) retired() uint64 {
	return q.seq - uint64(q.submissions.Len())
}

// submitBatch is one VkSubmitInfo or VkBindSparseInfo as far as ordering is concerned.
type submitBatch struct {
	waits   []Semaphore
	cbs     []CommandBuffer
	signals []Semaphore
}

type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitDstStageMask []vk.PipelineStageFlags
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

func (d *Device) RecordGetDeviceQueue(family, index uint32, queue Queue) {
	d.lock.SafeRecord(func() {
		if _, ok := d.queues[queue]; ok {
			return
		}
		d.queues[queue] = &queueState{
			handle:      queue,
			family:      family,
			submissions: containers.NewRingQueue[*submission](8),
			eventStages: make(map[Event]vk.PipelineStageFlags),
			queryStates: make(map[QueryObject]bool),
		}
		core.Logger("device", d.id.String(), "family", family, "index", index).Debug("queue tracked")
	})
}

// ============================================================================================
// Submission
// ============================================================================================

func (d *Device) validateFenceForSubmit(fence Fence, api string) bool {
	if fence == 0 {
		return false
	}
	f, ok := d.fences[fence]
	if !ok {
		return d.invalidObject(Ref(fence), api)
	}
	switch f.state {
	case fenceInflight:
		return d.logError(Ref(fence), CodeFenceInUse,
			"%s: Fence 0x%x is already in use by another submission.", api, uint64(fence))
	case fenceRetired:
		return d.logError(Ref(fence), CodeFenceSignaled,
			"%s: Fence 0x%x submitted in SIGNALED state. Fences must be reset before being submitted", api, uint64(fence))
	}
	return false
}

// validateSemaphores walks the batches in order, tracking which semaphores would be signaled.
func (d *Device) validateSemaphores(queue ObjectRef, batches []submitBatch, api string) bool {
	skip := false
	signaled := make(map[Semaphore]bool)
	isSignaled := func(s *semaphoreState) bool {
		if v, ok := signaled[s.handle]; ok {
			return v
		}
		return s.signaled
	}
	for _, b := range batches {
		for _, h := range b.waits {
			s, ok := d.semaphores[h]
			if !ok {
				skip = d.invalidObject(Ref(h), api) || skip
				continue
			}
			if !isSignaled(s) {
				skip = d.logError(Ref(h), CodeSemaphoreNeverSignaled,
					"%s: Queue 0x%x is waiting on semaphore 0x%x that has no way to be signaled.",
					api, queue.Handle, uint64(h)) || skip
			}
			signaled[h] = false
		}
		for _, h := range b.signals {
			s, ok := d.semaphores[h]
			if !ok {
				skip = d.invalidObject(Ref(h), api) || skip
				continue
			}
			if isSignaled(s) {
				skip = d.logError(Ref(h), CodeSemaphoreAlreadySignaled,
					"%s: Queue 0x%x is signaling semaphore 0x%x that has already been signaled but not waited on by queue.",
					api, queue.Handle, uint64(h)) || skip
			}
			signaled[h] = true
		}
	}
	return skip
}

/**
 * @brief Appends one submission per batch to the queue. Semaphore waits remember the
 * queue position of their signal so retiring a submission can retire what it waited on.
 * The fence rides on the last submission, or on an empty one when there are no batches.
 */
func (d *Device) recordSubmission(q *queueState, batches []submitBatch, fence Fence) {
	if len(batches) == 0 && fence != 0 {
		batches = []submitBatch{{}}
	}
	for i, b := range batches {
		q.seq++
		sub := &submission{seq: q.seq, cbs: b.cbs, signals: b.signals}
		for _, h := range b.waits {
			s, ok := d.semaphores[h]
			if !ok {
				continue
			}
			switch {
			case s.signaler != nil:
				sub.waits = append(sub.waits, semaphoreWait{semaphore: h, syncPoint: *s.signaler})
			case !s.signaled:
				sub.waits = append(sub.waits, semaphoreWait{semaphore: h})
			}
			// a signal from outside any queue (acquire) leaves nothing to wait for
			s.signaler = nil
			s.signaled = false
			s.inUse++
		}
		for _, h := range b.signals {
			if s, ok := d.semaphores[h]; ok {
				s.signaler = &syncPoint{queue: q.handle, seq: q.seq}
				s.signaled = true
				s.inUse++
			}
		}
		if i == len(batches)-1 && fence != 0 {
			if f, ok := d.fences[fence]; ok {
				f.state = fenceInflight
				f.signaler = &syncPoint{queue: q.handle, seq: q.seq}
				sub.fence = fence
			}
		}
		q.submissions.Enqueue(sub)
	}
}

func (d *Device) validateCommandBufferSubmit(q *queueState, cb *commandBufferState, seen map[CommandBuffer]int,
	o *submitOverlay, api string) bool {
	ref := Ref(cb.handle)
	skip := false

	switch cb.state {
	case COMMAND_BUFFER_STATE_INVALID:
		return d.reportInvalidated(cb, api)
	case COMMAND_BUFFER_STATE_EXECUTABLE, COMMAND_BUFFER_STATE_PENDING:
	default:
		return d.logError(ref, CodeCommandBufferNotExecutable,
			"%s: You must call vkEndCommandBuffer() on command buffer 0x%x before this call (state is %s).",
			api, uint64(cb.handle), cb.state)
	}

	seen[cb.handle]++
	if !cb.hasFlag(vk.CommandBufferUsageSimultaneousUseBit) && d.globalInFlight[cb.handle]+seen[cb.handle] > 1 {
		skip = d.logError(ref, CodeSimultaneousUseViolation,
			"Command Buffer 0x%x is already in use and is not marked for simultaneous use.", uint64(cb.handle)) || skip
	}
	if cb.hasFlag(vk.CommandBufferUsageOneTimeSubmitBit) && cb.submitCount+seen[cb.handle] > 1 {
		skip = d.logError(ref, CodeOneTimeSubmitViolation,
			"Commandbuffer 0x%x was begun w/ VK_COMMAND_BUFFER_USAGE_ONE_TIME_SUBMIT_BIT set, but has been submitted 0x%x times.",
			uint64(cb.handle), cb.submitCount+seen[cb.handle]) || skip
	}
	if !cb.secondary() && cb.pool.createInfo.QueueFamilyIndex != q.family {
		skip = d.logError(ref, CodeQueueFamilyMismatch,
			"%s: Primary command buffer 0x%x created in queue family %d is being submitted on queue 0x%x from queue family %d.",
			api, uint64(cb.handle), cb.pool.createInfo.QueueFamilyIndex, uint64(q.handle), q.family) || skip
	}

	for _, h := range sortedCommandBuffers(cb.secondaries) {
		sec, ok := d.commandBuffers[h]
		if !ok {
			skip = d.invalidObject(Ref(h), api) || skip
			continue
		}
		if sec.state == COMMAND_BUFFER_STATE_INVALID {
			skip = d.reportInvalidated(sec, api) || skip
			continue
		}
		seen[h]++
		if !sec.hasFlag(vk.CommandBufferUsageSimultaneousUseBit) && d.globalInFlight[h]+seen[h] > 1 {
			skip = d.logError(Ref(h), CodeSimultaneousUseViolation,
				"Commandbuffer 0x%x was submitted with secondary buffer 0x%x but that buffer has subsequently been bound to primary cmd buffer 0x%x and it does not have VK_COMMAND_BUFFER_USAGE_SIMULTANEOUS_USE_BIT set.",
				uint64(cb.handle), uint64(h), uint64(cb.handle)) || skip
		}
	}

	skip = d.replay(cb, q, o, true) || skip
	return skip
}

func (d *Device) ValidateQueueSubmit(queue Queue, submits []SubmitInfo, fence Fence) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkQueueSubmit"
		q, ok := d.queues[queue]
		if !ok {
			return d.invalidObject(Ref(queue), api)
		}
		skip := d.validateFenceForSubmit(fence, api)

		batches := make([]submitBatch, 0, len(submits))
		seen := make(map[CommandBuffer]int)
		o := newSubmitOverlay()
		for _, s := range submits {
			batches = append(batches, submitBatch{waits: s.WaitSemaphores, signals: s.SignalSemaphores})
			for _, h := range s.CommandBuffers {
				cb, ok := d.commandBuffers[h]
				if !ok {
					skip = d.invalidObject(Ref(h), api) || skip
					continue
				}
				skip = d.validateCommandBufferSubmit(q, cb, seen, o, api) || skip
			}
		}
		skip = d.validateSemaphores(Ref(queue), batches, api) || skip
		return skip
	})
}

// markInFlight takes a reference on everything a submitted command buffer uses.
func (d *Device) markInFlight(cb *commandBufferState, delta int) {
	for ref := range cb.boundObjects {
		if n := d.node(ref); n != nil {
			n.inUse += delta
		}
	}
	for mem := range cb.memObjs {
		if m, ok := d.memories[mem]; ok {
			m.inUse += delta
		}
	}
	cb.inUse += delta
	d.globalInFlight[cb.handle] += delta
	if d.globalInFlight[cb.handle] <= 0 {
		delete(d.globalInFlight, cb.handle)
	}
}

func (d *Device) RecordQueueSubmit(result vk.Result, queue Queue, submits []SubmitInfo, fence Fence) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		q, ok := d.queues[queue]
		if !ok {
			return
		}
		batches := make([]submitBatch, 0, len(submits))
		for _, s := range submits {
			var cbs []CommandBuffer
			for _, h := range s.CommandBuffers {
				cb, ok := d.commandBuffers[h]
				if !ok {
					continue
				}
				o := newSubmitOverlay()
				d.replay(cb, q, o, false)
				d.commit(q, o)

				for _, sh := range append([]CommandBuffer{h}, sortedCommandBuffers(cb.secondaries)...) {
					c, ok := d.commandBuffers[sh]
					if !ok {
						continue
					}
					c.submitCount++
					if c.state == COMMAND_BUFFER_STATE_EXECUTABLE {
						c.state = COMMAND_BUFFER_STATE_PENDING
					}
					d.markInFlight(c, 1)
					cbs = append(cbs, sh)
				}
			}
			batches = append(batches, submitBatch{waits: s.WaitSemaphores, cbs: cbs, signals: s.SignalSemaphores})
		}
		d.recordSubmission(q, batches, fence)
	})
}

// ============================================================================================
// Retirement
// ============================================================================================

/**
 * @brief Retires every submission of q up to seq, then the work on other queues that the
 * retired submissions waited on. Each recursive call starts from a strictly later retired
 * sequence, so the recursion terminates.
 */
func (d *Device) retireWorkOnQueue(q *queueState, seq uint64) {
	others := make(map[Queue]uint64)
	for q.retired() < seq {
		sub, err := q.submissions.Dequeue()
		if err != nil {
			core.Logger("queue", uint64(q.handle), "err", err).Warn("retiring past the end of a queue")
			break
		}
		for _, w := range sub.waits {
			if s, ok := d.semaphores[w.semaphore]; ok {
				s.inUse--
			}
			if w.queue != 0 && w.queue != q.handle && w.seq > others[w.queue] {
				others[w.queue] = w.seq
			}
		}
		for _, h := range sub.signals {
			if s, ok := d.semaphores[h]; ok {
				s.inUse--
			}
		}
		for _, h := range sub.cbs {
			cb, ok := d.commandBuffers[h]
			if !ok {
				continue
			}
			d.markInFlight(cb, -1)
			if cb.state == COMMAND_BUFFER_STATE_PENDING && d.globalInFlight[h] == 0 {
				cb.state = COMMAND_BUFFER_STATE_EXECUTABLE
			}
		}
		if f, ok := d.fences[sub.fence]; ok && sub.fence != 0 {
			f.state = fenceRetired
		}
	}
	for h, s := range others {
		if other, ok := d.queues[h]; ok {
			d.retireWorkOnQueue(other, s)
		}
	}
}

/**
 * @brief Walks the submissions that waiting for seq on q depends on and reports any
 * semaphore wait that nothing will ever signal.
 */
func (d *Device) verifyQueueStateToSeq(q *queueState, seq uint64, visited map[Queue]uint64, api string) bool {
	if done, ok := visited[q.handle]; ok && done >= seq {
		return false
	}
	visited[q.handle] = seq

	skip := false
	others := make(map[Queue]uint64)
	for i := 0; i < q.submissions.Len(); i++ {
		sub, err := q.submissions.At(i)
		if err != nil || sub.seq > seq {
			break
		}
		for _, w := range sub.waits {
			if w.queue == 0 {
				skip = d.logError(Ref(q.handle), CodeQueueForwardProgress,
					"%s: Queue 0x%x is waiting on semaphore 0x%x that has no way to be signaled, so sequence %d can never complete.",
					api, uint64(q.handle), uint64(w.semaphore), seq) || skip
				continue
			}
			if w.queue != q.handle && w.seq > others[w.queue] {
				others[w.queue] = w.seq
			}
		}
	}
	for h, s := range others {
		if other, ok := d.queues[h]; ok {
			skip = d.verifyQueueStateToSeq(other, s, visited, api) || skip
		}
	}
	return skip
}

func (d *Device) verifyQueueStateToFence(fence Fence, api string) bool {
	f, ok := d.fences[fence]
	if !ok || f.state != fenceInflight || f.signaler == nil {
		return false
	}
	q, ok := d.queues[f.signaler.queue]
	if !ok {
		return false
	}
	return d.verifyQueueStateToSeq(q, f.signaler.seq, make(map[Queue]uint64), api)
}

func (d *Device) retireFence(fence Fence) {
	f, ok := d.fences[fence]
	if !ok || f.state != fenceInflight || f.signaler == nil {
		return
	}
	if q, ok := d.queues[f.signaler.queue]; ok {
		d.retireWorkOnQueue(q, f.signaler.seq)
	}
	f.state = fenceRetired
}

func (d *Device) ValidateWaitForFences(fences []Fence, waitAll bool) bool {
	return d.lock.SafeCall(func() bool {
		skip := false
		for _, h := range fences {
			if _, ok := d.fences[h]; !ok {
				skip = d.invalidObject(Ref(h), "vkWaitForFences") || skip
				continue
			}
			skip = d.verifyQueueStateToFence(h, "vkWaitForFences") || skip
		}
		return skip
	})
}

func (d *Device) RecordWaitForFences(result vk.Result, fences []Fence, waitAll bool) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		// with waitAll false only a single fence tells us which work completed
		if !waitAll && len(fences) != 1 {
			return
		}
		for _, h := range fences {
			d.retireFence(h)
		}
	})
}

func (d *Device) ValidateGetFenceStatus(fence Fence) bool {
	return d.lock.SafeCall(func() bool {
		if _, ok := d.fences[fence]; !ok {
			return d.invalidObject(Ref(fence), "vkGetFenceStatus")
		}
		return d.verifyQueueStateToFence(fence, "vkGetFenceStatus")
	})
}

func (d *Device) RecordGetFenceStatus(result vk.Result, fence Fence) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		d.retireFence(fence)
	})
}

func (d *Device) ValidateQueueWaitIdle(queue Queue) bool {
	return d.lock.SafeCall(func() bool {
		q, ok := d.queues[queue]
		if !ok {
			return d.invalidObject(Ref(queue), "vkQueueWaitIdle")
		}
		return d.verifyQueueStateToSeq(q, q.seq, make(map[Queue]uint64), "vkQueueWaitIdle")
	})
}

func (d *Device) RecordQueueWaitIdle(result vk.Result, queue Queue) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		if q, ok := d.queues[queue]; ok {
			d.retireWorkOnQueue(q, q.seq)
		}
	})
}

func (d *Device) ValidateDeviceWaitIdle() bool {
	return d.lock.SafeCall(func() bool {
		skip := false
		visited := make(map[Queue]uint64)
		for _, q := range d.sortedQueues() {
			skip = d.verifyQueueStateToSeq(q, q.seq, visited, "vkDeviceWaitIdle") || skip
		}
		return skip
	})
}

func (d *Device) RecordDeviceWaitIdle(result vk.Result) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		for _, q := range d.sortedQueues() {
			d.retireWorkOnQueue(q, q.seq)
		}
	})
}

// sortedQueues orders queues by handle so retirement and diagnostics are deterministic.
func (d *Device) sortedQueues() []*queueState {
	out := make([]*queueState, 0, len(d.queues))
	for _, q := range d.queues {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].handle < out[j].handle })
	return out
}

func sortedCommandBuffers(set map[CommandBuffer]struct{}) []CommandBuffer {
	out := make([]CommandBuffer, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
