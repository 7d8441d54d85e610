package vulkan

import (
	vk "github.com/goki/vulkan"
)

type QueryPoolCreateInfo struct {
	QueryType  vk.QueryType
	QueryCount uint32
}

type queryPoolState struct {
	baseNode
	handle     QueryPool
	createInfo QueryPoolCreateInfo
}

func (d *Device) RecordCreateQueryPool(result vk.Result, pool QueryPool, info QueryPoolCreateInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		d.queryPools[pool] = &queryPoolState{handle: pool, createInfo: info}
	})
}

func (d *Device) ValidateDestroyQueryPool(pool QueryPool) bool {
	return d.lock.SafeCall(func() bool {
		if pool == 0 {
			return false
		}
		p, ok := d.queryPools[pool]
		if !ok {
			return d.invalidObject(Ref(pool), "vkDestroyQueryPool")
		}
		return d.validateObjectNotInUse(&p.baseNode, Ref(pool), "vkDestroyQueryPool")
	})
}

func (d *Device) RecordDestroyQueryPool(pool QueryPool) {
	d.lock.SafeRecord(func() {
		p, ok := d.queryPools[pool]
		if !ok {
			return
		}
		d.invalidateCommandBuffers(&p.baseNode, Ref(pool), invalidatedDestroyed)
		delete(d.queryPools, pool)
		for qo := range d.queryToState {
			if qo.Pool == pool {
				delete(d.queryToState, qo)
			}
		}
		for _, q := range d.queues {
			for qo := range q.queryStates {
				if qo.Pool == pool {
					delete(q.queryStates, qo)
				}
			}
		}
	})
}

// validateQueryRange checks first and count against the size of the pool.
func (d *Device) validateQueryRange(ref ObjectRef, pool QueryPool, first, count uint32, api string) bool {
	p, ok := d.queryPools[pool]
	if !ok {
		return d.invalidObject(Ref(pool), api)
	}
	if uint64(first)+uint64(count) > uint64(p.createInfo.QueryCount) {
		return d.logError(ref, CodeInvalidQuery,
			"%s: Query range [%d, %d) is out of bounds for queryPool 0x%x with %d queries.",
			api, first, uint64(first)+uint64(count), uint64(pool), p.createInfo.QueryCount)
	}
	return false
}

// ============================================================================================
// Commands
// ============================================================================================

func (d *Device) ValidateCmdBeginQuery(h CommandBuffer, pool QueryPool, query uint32) bool {
	return d.lock.SafeCall(func() bool {
		cb, skip := d.commandBuffer(h, cmdBeginQuery)
		if cb == nil {
			return skip
		}
		skip = d.validateQueryRange(Ref(h), pool, query, 1, "vkCmdBeginQuery") || skip
		if _, active := cb.activeQueries[QueryObject{Pool: pool, Index: query}]; active {
			skip = d.logError(Ref(h), CodeInvalidQuery,
				"vkCmdBeginQuery: query %d of queryPool 0x%x is already active.", query, uint64(pool)) || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdBeginQuery(h CommandBuffer, pool QueryPool, query uint32) {
	d.lock.SafeRecord(func() {
		cb, ok := d.commandBuffers[h]
		if !ok {
			return
		}
		cb.activeQueries[QueryObject{Pool: pool, Index: query}] = struct{}{}
		d.bindToCommandBuffer(cb, Ref(pool))
	})
}

func (d *Device) ValidateCmdEndQuery(h CommandBuffer, pool QueryPool, query uint32) bool {
	return d.lock.SafeCall(func() bool {
		cb, skip := d.commandBuffer(h, cmdEndQuery)
		if cb == nil {
			return skip
		}
		if _, active := cb.activeQueries[QueryObject{Pool: pool, Index: query}]; !active {
			skip = d.logError(Ref(h), CodeInvalidQuery,
				"Ending a query before it was started: queryPool 0x%x, index %d.", uint64(pool), query) || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdEndQuery(h CommandBuffer, pool QueryPool, query uint32) {
	d.lock.SafeRecord(func() {
		cb, ok := d.commandBuffers[h]
		if !ok {
			return
		}
		qo := QueryObject{Pool: pool, Index: query}
		delete(cb.activeQueries, qo)
		cb.addDeferred(setQueryStateAction(qo, true))
	})
}

func (d *Device) ValidateCmdResetQueryPool(h CommandBuffer, pool QueryPool, first, count uint32) bool {
	return d.lock.SafeCall(func() bool {
		cb, skip := d.commandBuffer(h, cmdResetQueryPool)
		if cb == nil {
			return skip
		}
		return d.validateQueryRange(Ref(h), pool, first, count, "vkCmdResetQueryPool") || skip
	})
}

func (d *Device) RecordCmdResetQueryPool(h CommandBuffer, pool QueryPool, first, count uint32) {
	d.lock.SafeRecord(func() {
		cb, ok := d.commandBuffers[h]
		if !ok {
			return
		}
		for i := first; i < first+count; i++ {
			cb.addDeferred(setQueryStateAction(QueryObject{Pool: pool, Index: i}, false))
		}
		d.bindToCommandBuffer(cb, Ref(pool))
	})
}

func (d *Device) ValidateCmdCopyQueryPoolResults(h CommandBuffer, pool QueryPool, first, count uint32,
	dst Buffer, dstOffset uint64) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdCopyQueryPoolResults"
		cb, skip := d.commandBuffer(h, cmdCopyQueryPoolResults)
		if cb == nil {
			return skip
		}
		skip = d.validateQueryRange(Ref(h), pool, first, count, api) || skip
		b, ok := d.buffers[dst]
		if !ok {
			return d.invalidObject(Ref(dst), api) || skip
		}
		skip = d.verifyBoundMemory(Ref(dst), api) || skip
		skip = d.validateBufferUsage(b, vk.BufferUsageTransferDstBit, api) || skip
		if dstOffset >= b.createInfo.Size {
			skip = d.logError(Ref(dst), CodeOffsetOutOfRange,
				"%s: dstOffset 0x%x is not less than the size 0x%x of buffer 0x%x.",
				api, dstOffset, b.createInfo.Size, uint64(dst)) || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdCopyQueryPoolResults(h CommandBuffer, pool QueryPool, first, count uint32,
	dst Buffer, dstOffset uint64) {
	d.lock.SafeRecord(func() {
		cb, ok := d.commandBuffers[h]
		if !ok {
			return
		}
		for i := first; i < first+count; i++ {
			cb.addDeferred(checkQueryStateAction(QueryObject{Pool: pool, Index: i}, "vkCmdCopyQueryPoolResults"))
		}
		cb.addDeferred(setValidAction(Ref(dst), true))
		d.bindToCommandBuffer(cb, Ref(pool))
		d.bindToCommandBuffer(cb, Ref(dst))
	})
}

func (d *Device) ValidateCmdWriteTimestamp(h CommandBuffer, stage vk.PipelineStageFlagBits, pool QueryPool, query uint32) bool {
	return d.lock.SafeCall(func() bool {
		cb, skip := d.commandBuffer(h, cmdWriteTimestamp)
		if cb == nil {
			return skip
		}
		return d.validateQueryRange(Ref(h), pool, query, 1, "vkCmdWriteTimestamp") || skip
	})
}

func (d *Device) RecordCmdWriteTimestamp(h CommandBuffer, stage vk.PipelineStageFlagBits, pool QueryPool, query uint32) {
	d.lock.SafeRecord(func() {
		cb, ok := d.commandBuffers[h]
		if !ok {
			return
		}
		cb.addDeferred(setQueryStateAction(QueryObject{Pool: pool, Index: query}, true))
		d.bindToCommandBuffer(cb, Ref(pool))
	})
}

// ============================================================================================
// Host
// ============================================================================================

/**
 * @brief Reads back without VK_QUERY_RESULT_WAIT_BIT or PARTIAL_BIT are only meaningful
 * for queries whose availability reached the device through a submission.
 */
func (d *Device) ValidateGetQueryPoolResults(pool QueryPool, first, count uint32, flags vk.QueryResultFlags) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkGetQueryPoolResults"
		ref := Ref(pool)
		if skip := d.validateQueryRange(ref, pool, first, count, api); skip {
			return skip
		}
		waitOrPartial := vk.QueryResultFlags(vk.QueryResultWaitBit | vk.QueryResultPartialBit)
		if flags&waitOrPartial != 0 {
			return false
		}
		skip := false
		for i := first; i < first+count; i++ {
			if !d.queryToState[QueryObject{Pool: pool, Index: i}] {
				skip = d.logError(ref, CodeQueryNotAvailable,
					"Cannot get query results on queryPool 0x%x with index %d which is unavailable.",
					uint64(pool), i) || skip
			}
		}
		return skip
	})
}
