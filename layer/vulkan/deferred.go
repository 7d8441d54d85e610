package vulkan

import (
	vk "github.com/goki/vulkan"
)

type QueryObject struct {
	Pool  QueryPool
	Index uint32
}

type deferredKind int

const (
	actionSetValid deferredKind = iota
	actionCheckValid
	actionSetEventStage
	actionCheckEventStage
	actionSetQueryState
	actionCheckQueryState
)

// deferredAction is a check or state change that can only run once the queue is known.
type deferredAction struct {
	kind deferredKind
	api  string

	// setValid, checkValid
	object ObjectRef
	valid  bool

	// setEventStage, checkEventStage
	events []Event
	stage  vk.PipelineStageFlags

	// setQueryState, checkQueryState
	query     QueryObject
	available bool
}

func setValidAction(ref ObjectRef, valid bool) deferredAction {
	return deferredAction{kind: actionSetValid, object: ref, valid: valid}
}

func checkValidAction(ref ObjectRef, api string) deferredAction {
	return deferredAction{kind: actionCheckValid, object: ref, api: api}
}

func setEventStageAction(e Event, stage vk.PipelineStageFlags) deferredAction {
	return deferredAction{kind: actionSetEventStage, events: []Event{e}, stage: stage}
}

func checkEventStageAction(events []Event, srcStageMask vk.PipelineStageFlags) deferredAction {
	return deferredAction{kind: actionCheckEventStage, events: append([]Event(nil), events...), stage: srcStageMask}
}

func setQueryStateAction(q QueryObject, available bool) deferredAction {
	return deferredAction{kind: actionSetQueryState, query: q, available: available}
}

func checkQueryStateAction(q QueryObject, api string) deferredAction {
	return deferredAction{kind: actionCheckQueryState, query: q, api: api}
}

// submitOverlay holds the effects of a submission being validated. The tracked state is only
// touched when the overlay is committed.
type submitOverlay struct {
	valid       map[ObjectRef]bool
	eventStages map[Event]vk.PipelineStageFlags
	queries     map[QueryObject]bool
}

func newSubmitOverlay() *submitOverlay {
	return &submitOverlay{
		valid:       make(map[ObjectRef]bool),
		eventStages: make(map[Event]vk.PipelineStageFlags),
		queries:     make(map[QueryObject]bool),
	}
}

func (d *Device) eventStage(o *submitOverlay, q *queueState, e Event) vk.PipelineStageFlags {
	if s, ok := o.eventStages[e]; ok {
		return s
	}
	if s, ok := q.eventStages[e]; ok {
		return s
	}
	if ev, ok := d.events[e]; ok {
		return ev.stageMask
	}
	return 0
}

/**
 * @brief Plays deferred actions of one command buffer in order against the overlay.
 * @param report false when recording, where the checks already ran at validation.
 */
func (d *Device) replay(cb *commandBufferState, q *queueState, o *submitOverlay, report bool) bool {
	skip := false
	for i := range cb.deferred {
		a := &cb.deferred[i]
		switch a.kind {
		case actionSetValid:
			o.valid[a.object] = a.valid
		case actionCheckValid:
			if !report {
				continue
			}
			valid, ok := o.valid[a.object]
			if !ok {
				var tracked bool
				if valid, tracked = d.contentsValid(a.object); !tracked {
					continue
				}
			}
			skip = d.validateRead(a.object, valid, a.api) || skip
		case actionSetEventStage:
			for _, e := range a.events {
				o.eventStages[e] = a.stage
			}
		case actionCheckEventStage:
			if !report {
				continue
			}
			var mask vk.PipelineStageFlags
			for _, e := range a.events {
				mask |= d.eventStage(o, q, e)
			}
			host := vk.PipelineStageFlags(vk.PipelineStageHostBit)
			if a.stage != mask && a.stage != mask|host {
				skip = d.logError(Ref(cb.handle), CodeEventStageMismatch,
					"Submitting cmdbuffer with call to VkCmdWaitEvents using srcStageMask 0x%x which must be the bitwise OR of the stageMask parameters used in calls to vkCmdSetEvent and VK_PIPELINE_STAGE_HOST_BIT if used with vkSetEvent but instead is 0x%x.",
					a.stage, mask) || skip
			}
		case actionSetQueryState:
			o.queries[a.query] = a.available
		case actionCheckQueryState:
			if !report {
				continue
			}
			available, ok := o.queries[a.query]
			if !ok {
				if available, ok = q.queryStates[a.query]; !ok {
					available = d.queryToState[a.query]
				}
			}
			if !available {
				skip = d.logError(Ref(cb.handle), CodeQueryNotAvailable,
					"Cannot get query results on queryPool 0x%x with index %d which is unavailable.",
					uint64(a.query.Pool), a.query.Index) || skip
			}
		}
	}
	return skip
}

// commit writes the overlay into the tracked state of the device and the queue.
func (d *Device) commit(q *queueState, o *submitOverlay) {
	for ref, valid := range o.valid {
		d.setContentsValid(ref, valid)
	}
	for e, s := range o.eventStages {
		q.eventStages[e] = s
	}
	for qo, available := range o.queries {
		q.queryStates[qo] = available
		d.queryToState[qo] = available
	}
}
