package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// VK_ATTACHMENT_UNUSED
const attachmentUnused = ^uint32(0)

// VK_SUBPASS_EXTERNAL
const subpassExternal = ^uint32(0)

type SubpassDescription struct {
	PipelineBindPoint      vk.PipelineBindPoint
	InputAttachments       []vk.AttachmentReference
	ColorAttachments       []vk.AttachmentReference
	ResolveAttachments     []vk.AttachmentReference
	DepthStencilAttachment *vk.AttachmentReference
	PreserveAttachments    []uint32
}

// writes lists the attachments the subpass renders to.
func (s *SubpassDescription) writes() []uint32 {
	var out []uint32
	for _, r := range s.ColorAttachments {
		out = append(out, r.Attachment)
	}
	for _, r := range s.ResolveAttachments {
		out = append(out, r.Attachment)
	}
	if s.DepthStencilAttachment != nil {
		out = append(out, s.DepthStencilAttachment.Attachment)
	}
	return out
}

func (s *SubpassDescription) reads() []uint32 {
	out := make([]uint32, 0, len(s.InputAttachments))
	for _, r := range s.InputAttachments {
		out = append(out, r.Attachment)
	}
	return out
}

func (s *SubpassDescription) writesAttachment(a uint32) bool {
	for _, w := range s.writes() {
		if w == a {
			return true
		}
	}
	return false
}

func (s *SubpassDescription) usesAttachment(a uint32) bool {
	if s.writesAttachment(a) {
		return true
	}
	for _, r := range s.reads() {
		if r == a {
			return true
		}
	}
	return false
}

func (s *SubpassDescription) preserves(a uint32) bool {
	for _, p := range s.PreserveAttachments {
		if p == a {
			return true
		}
	}
	return false
}

type RenderPassCreateInfo struct {
	Attachments  []vk.AttachmentDescription
	Subpasses    []SubpassDescription
	Dependencies []vk.SubpassDependency
}

type subpassNode struct {
	prev []uint32
	next []uint32
}

// dependencyKey identifies one missing dependency so a call reports it once.
type dependencyKey struct {
	earlier, later, attachment uint32
}

type renderPassState struct {
	baseNode
	handle         RenderPass
	createInfo     RenderPassCreateInfo
	dag            []subpassNode
	selfDependency []bool
	// the first subpass to use the attachment reads it
	attachmentFirstRead []bool
}

func (rp *renderPassState) subpassCount() uint32 {
	return uint32(len(rp.createInfo.Subpasses))
}

// ============================================================================================
// DAG
// ============================================================================================

/**
 * @brief Builds the subpass graph from the declared dependencies.
 * Edges only ever point from a lower subpass to a higher one, so the result is acyclic.
 * @returns the graph, the self dependency flags, and true when the call must be skipped.
 */
func (d *Device) buildDAG(info *RenderPassCreateInfo) ([]subpassNode, []bool, bool) {
	n := uint32(len(info.Subpasses))
	dag := make([]subpassNode, n)
	self := make([]bool, n)
	skip := false

	for i, dep := range info.Dependencies {
		src, dst := dep.SrcSubpass, dep.DstSubpass
		switch {
		case src == subpassExternal && dst == subpassExternal:
			skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeSelfReferentialExternal,
				"vkCreateRenderPass: pDependencies[%d] has both srcSubpass and dstSubpass set to VK_SUBPASS_EXTERNAL.", i) || skip
		case src == subpassExternal || dst == subpassExternal:
			// external edges do not order subpasses against each other
		case src >= n || dst >= n:
			skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidSubpassIndex,
				"vkCreateRenderPass: pDependencies[%d] references subpass %d -> %d but the render pass only has %d subpasses.",
				i, src, dst, n) || skip
		case src > dst:
			skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeBackwardDependency,
				"vkCreateRenderPass: dependency graph must be specified such that an earlier pass cannot depend on a later pass (pDependencies[%d] is %d -> %d).",
				i, src, dst) || skip
		case src == dst:
			self[src] = true
		default:
			dag[dst].prev = append(dag[dst].prev, src)
			dag[src].next = append(dag[src].next, dst)
		}
	}
	return dag, self, skip
}

// reachable reports whether a path of dependencies leads from subpass from to subpass to.
func reachable(dag []subpassNode, from, to uint32) bool {
	visited := make(map[uint32]struct{})
	stack := []uint32{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}
		for _, next := range dag[cur].next {
			if next <= to {
				stack = append(stack, next)
			}
		}
	}
	return false
}

func subpassesConnected(dag []subpassNode, a, b uint32) bool {
	if a > b {
		a, b = b, a
	}
	return reachable(dag, a, b)
}

type attachmentUser struct {
	subpass    uint32
	attachment uint32
}

/**
 * @brief Reports every pair of subpasses that share an attachment without a dependency
 * ordering them. A reader and a writer, or two writers, need a direct or transitive edge.
 * @param aliases for each attachment, the other attachments whose memory it overlaps.
 * @param aliasedOnly skips attachments shared directly, which render pass creation already checked.
 */
func (d *Device) validateDependencies(ref ObjectRef, api string, rp *renderPassState, aliases [][]uint32, aliasedOnly bool) bool {
	info := &rp.createInfo
	na := uint32(len(info.Attachments))
	readers := make([][]attachmentUser, na)
	writers := make([][]attachmentUser, na)

	add := func(users [][]attachmentUser, s, a uint32) {
		if a >= na {
			return
		}
		users[a] = append(users[a], attachmentUser{s, a})
		if aliases != nil {
			for _, b := range aliases[a] {
				users[b] = append(users[b], attachmentUser{s, a})
			}
		}
	}
	for s := range info.Subpasses {
		for _, a := range info.Subpasses[s].reads() {
			add(readers, uint32(s), a)
		}
		for _, a := range info.Subpasses[s].writes() {
			add(writers, uint32(s), a)
		}
	}

	skip := false
	reported := make(map[dependencyKey]struct{})
	check := func(i, a uint32, users []attachmentUser) {
		for _, u := range users {
			if u.subpass == i || (aliasedOnly && u.attachment == a) || subpassesConnected(rp.dag, i, u.subpass) {
				continue
			}
			key := dependencyKey{earlier: i, later: u.subpass, attachment: a}
			if key.earlier > key.later {
				key.earlier, key.later = key.later, key.earlier
			}
			if u.attachment < key.attachment {
				key.attachment = u.attachment
			}
			if _, done := reported[key]; done {
				continue
			}
			reported[key] = struct{}{}
			skip = d.logError(ref, CodeMissingSubpassDependency,
				"%s: a dependency between subpasses %d and %d must exist but one is not specified (attachment %d).",
				api, key.earlier, key.later, key.attachment) || skip
		}
	}
	for s := range info.Subpasses {
		i := uint32(s)
		for _, a := range info.Subpasses[s].reads() {
			if a < na {
				check(i, a, writers[a])
			}
		}
		for _, a := range info.Subpasses[s].writes() {
			if a < na {
				check(i, a, writers[a])
				check(i, a, readers[a])
			}
		}
	}
	return skip
}

type preserveKey struct {
	subpass, attachment uint32
}

/**
 * @brief Walks backward from a subpass that reads an attachment. Every subpass between the
 * reader and an earlier writer must use or preserve the attachment.
 * @returns true when some ancestor writes the attachment.
 */
func (d *Device) checkPreserved(ref ObjectRef, rp *renderPassState, index, attachment uint32, depth int,
	memo map[preserveKey]bool, reported map[preserveKey]struct{}, skip *bool) bool {
	key := preserveKey{index, attachment}
	if depth > 0 {
		if v, ok := memo[key]; ok {
			return v
		}
	}
	sp := &rp.createInfo.Subpasses[index]
	if depth > 0 && sp.writesAttachment(attachment) {
		memo[key] = true
		return true
	}
	written := false
	for _, prev := range rp.dag[index].prev {
		if d.checkPreserved(ref, rp, prev, attachment, depth+1, memo, reported, skip) {
			written = true
		}
	}
	if written && depth > 0 && !sp.usesAttachment(attachment) && !sp.preserves(attachment) {
		if _, done := reported[key]; !done {
			reported[key] = struct{}{}
			*skip = d.logError(ref, CodeAttachmentNotPreserved,
				"Attachment %d is used by a later subpass and must be preserved in subpass %d.", attachment, index) || *skip
		}
	}
	if depth > 0 {
		memo[key] = written
	}
	return written
}

func (d *Device) validatePreserved(ref ObjectRef, rp *renderPassState) bool {
	skip := false
	memo := make(map[preserveKey]bool)
	reported := make(map[preserveKey]struct{})
	for i := range rp.createInfo.Subpasses {
		for _, a := range rp.createInfo.Subpasses[i].reads() {
			if a == attachmentUnused {
				continue
			}
			d.checkPreserved(ref, rp, uint32(i), a, 0, memo, reported, &skip)
		}
	}
	return skip
}

// ============================================================================================
// Creation
// ============================================================================================

func (d *Device) validateAttachmentReferences(info *RenderPassCreateInfo) bool {
	skip := false
	n := uint32(len(info.Attachments))
	checkRef := func(subpass int, what string, a uint32) {
		if a != attachmentUnused && a >= n {
			skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidAttachmentIndex,
				"vkCreateRenderPass: pSubpasses[%d] %s attachment %d must be less than the total number of attachments %d.",
				subpass, what, a, n) || skip
		}
	}
	for i := range info.Subpasses {
		sp := &info.Subpasses[i]
		for _, r := range sp.InputAttachments {
			checkRef(i, "input", r.Attachment)
		}
		for _, r := range sp.ColorAttachments {
			checkRef(i, "color", r.Attachment)
		}
		for _, r := range sp.ResolveAttachments {
			checkRef(i, "resolve", r.Attachment)
		}
		if sp.DepthStencilAttachment != nil {
			checkRef(i, "depth/stencil", sp.DepthStencilAttachment.Attachment)
		}
		if len(sp.ResolveAttachments) > 0 && len(sp.ResolveAttachments) != len(sp.ColorAttachments) {
			skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidAttachmentIndex,
				"vkCreateRenderPass: pSubpasses[%d] has %d resolve attachments but %d color attachments.",
				i, len(sp.ResolveAttachments), len(sp.ColorAttachments)) || skip
		}
		for _, p := range sp.PreserveAttachments {
			switch {
			case p == attachmentUnused:
				skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidPreserveAttachment,
					"vkCreateRenderPass: pSubpasses[%d] preserve attachment must not be VK_ATTACHMENT_UNUSED.", i) || skip
			case p >= n:
				checkRef(i, "preserve", p)
			case sp.usesAttachment(p):
				skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidPreserveAttachment,
					"vkCreateRenderPass: pSubpasses[%d] preserves attachment %d which it also uses.", i, p) || skip
			}
		}
	}
	return skip
}

func (d *Device) ValidateCreateRenderPass(info RenderPassCreateInfo) bool {
	return d.lock.SafeCall(func() bool {
		skip := d.validateAttachmentReferences(&info)
		dag, self, dagSkip := d.buildDAG(&info)
		skip = skip || dagSkip
		if skip {
			return true
		}
		// a scratch state so dependency analysis runs before the handle exists
		rp := &renderPassState{
			createInfo:     info,
			dag:            dag,
			selfDependency: self,
		}
		ref := ObjectRef{Kind: ObjectKindDevice}
		skip = d.validateDependencies(ref, "vkCreateRenderPass", rp, nil, false) || skip
		skip = d.validatePreserved(ref, rp) || skip
		return skip
	})
}

func firstReads(info *RenderPassCreateInfo) []bool {
	out := make([]bool, len(info.Attachments))
	seen := make([]bool, len(info.Attachments))
	for i := range info.Subpasses {
		sp := &info.Subpasses[i]
		for _, a := range sp.reads() {
			if a < uint32(len(out)) && !seen[a] {
				seen[a] = true
				out[a] = true
			}
		}
		for _, a := range sp.writes() {
			if a < uint32(len(out)) {
				seen[a] = true
			}
		}
	}
	return out
}

func (d *Device) RecordCreateRenderPass(result vk.Result, renderPass RenderPass, info RenderPassCreateInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		dag, self, _ := d.buildDAGQuiet(&info)
		rp := &renderPassState{
			handle:              renderPass,
			createInfo:          info,
			dag:                 dag,
			selfDependency:      self,
			attachmentFirstRead: firstReads(&info),
		}
		d.renderPasses[renderPass] = rp
	})
}

// buildDAGQuiet builds the graph without reporting, dropping the edges validation rejects.
func (d *Device) buildDAGQuiet(info *RenderPassCreateInfo) ([]subpassNode, []bool, bool) {
	n := uint32(len(info.Subpasses))
	dag := make([]subpassNode, n)
	self := make([]bool, n)
	for _, dep := range info.Dependencies {
		src, dst := dep.SrcSubpass, dep.DstSubpass
		if src == subpassExternal || dst == subpassExternal || src >= n || dst >= n || src > dst {
			continue
		}
		if src == dst {
			self[src] = true
			continue
		}
		dag[dst].prev = append(dag[dst].prev, src)
		dag[src].next = append(dag[src].next, dst)
	}
	return dag, self, false
}

func (d *Device) ValidateDestroyRenderPass(renderPass RenderPass) bool {
	return d.lock.SafeCall(func() bool {
		if renderPass == 0 {
			return false
		}
		rp, ok := d.renderPasses[renderPass]
		if !ok {
			return d.invalidObject(Ref(renderPass), "vkDestroyRenderPass")
		}
		return d.validateObjectNotInUse(&rp.baseNode, Ref(renderPass), "vkDestroyRenderPass")
	})
}

func (d *Device) RecordDestroyRenderPass(renderPass RenderPass) {
	d.lock.SafeRecord(func() {
		if rp, ok := d.renderPasses[renderPass]; ok {
			d.invalidateCommandBuffers(&rp.baseNode, Ref(renderPass), invalidatedDestroyed)
			delete(d.renderPasses, renderPass)
		}
	})
}

// ============================================================================================
// Compatibility
// ============================================================================================

func attachmentAt(refs []vk.AttachmentReference, i int) uint32 {
	if i < len(refs) {
		return refs[i].Attachment
	}
	return attachmentUnused
}

// attachmentsCompatible compares one attachment slot of two render passes.
func attachmentsCompatible(a *renderPassState, ai uint32, b *renderPassState, bi uint32, checkFlags bool) (bool, string) {
	if ai == attachmentUnused && bi == attachmentUnused {
		return true, ""
	}
	if ai == attachmentUnused || bi == attachmentUnused {
		return false, "the attachment is not used by both render passes"
	}
	if int(ai) >= len(a.createInfo.Attachments) || int(bi) >= len(b.createInfo.Attachments) {
		return false, "the attachment index is out of range"
	}
	da, db := a.createInfo.Attachments[ai], b.createInfo.Attachments[bi]
	if da.Format != db.Format {
		return false, fmt.Sprintf("formats differ (%d vs %d)", da.Format, db.Format)
	}
	if da.Samples != db.Samples {
		return false, fmt.Sprintf("sample counts differ (%d vs %d)", da.Samples, db.Samples)
	}
	if checkFlags && da.Flags != db.Flags {
		return false, fmt.Sprintf("flags differ (0x%x vs 0x%x)", da.Flags, db.Flags)
	}
	return true, ""
}

func subpassesCompatible(a *renderPassState, b *renderPassState, subpass int) (bool, string) {
	sa, sb := &a.createInfo.Subpasses[subpass], &b.createInfo.Subpasses[subpass]
	checkFlags := a.subpassCount() > 1
	slots := []struct {
		name  string
		aRefs []vk.AttachmentReference
		bRefs []vk.AttachmentReference
	}{
		{"input", sa.InputAttachments, sb.InputAttachments},
		{"color", sa.ColorAttachments, sb.ColorAttachments},
		{"resolve", sa.ResolveAttachments, sb.ResolveAttachments},
	}
	for _, slot := range slots {
		n := len(slot.aRefs)
		if len(slot.bRefs) > n {
			n = len(slot.bRefs)
		}
		for i := 0; i < n; i++ {
			if ok, why := attachmentsCompatible(a, attachmentAt(slot.aRefs, i), b, attachmentAt(slot.bRefs, i), checkFlags); !ok {
				return false, fmt.Sprintf("subpass %d %s attachment %d: %s", subpass, slot.name, i, why)
			}
		}
	}
	da, db := attachmentUnused, attachmentUnused
	if sa.DepthStencilAttachment != nil {
		da = sa.DepthStencilAttachment.Attachment
	}
	if sb.DepthStencilAttachment != nil {
		db = sb.DepthStencilAttachment.Attachment
	}
	if ok, why := attachmentsCompatible(a, da, b, db, checkFlags); !ok {
		return false, fmt.Sprintf("subpass %d depth/stencil attachment: %s", subpass, why)
	}
	return true, ""
}

// renderPassesCompatible is true for the same render pass or two passes with the same
// subpass count whose attachment slots agree.
func renderPassesCompatible(a, b *renderPassState) (bool, string) {
	if a == b {
		return true, ""
	}
	if a.subpassCount() != b.subpassCount() {
		return false, fmt.Sprintf("subpass counts differ (%d vs %d)", a.subpassCount(), b.subpassCount())
	}
	for i := range a.createInfo.Subpasses {
		if ok, why := subpassesCompatible(a, b, i); !ok {
			return false, why
		}
	}
	return true, ""
}

/**
 * @brief Reports two incompatible render passes.
 * @param aWhat, bWhat name what each render pass belongs to, e.g. "primary command buffer".
 */
func (d *Device) validateRenderPassCompatibility(ref ObjectRef, api string, aWhat string, a *renderPassState,
	bWhat string, b *renderPassState) bool {
	if a.subpassCount() != b.subpassCount() {
		return d.logError(ref, CodeRenderPassIncompatible,
			"%s: RenderPasses incompatible between %s w/ renderPass 0x%x with a subpassCount of %d and %s w/ renderPass 0x%x with a subpassCount of %d.",
			api, aWhat, uint64(a.handle), a.subpassCount(), bWhat, uint64(b.handle), b.subpassCount())
	}
	if ok, why := renderPassesCompatible(a, b); !ok {
		return d.logError(ref, CodeRenderPassIncompatible,
			"%s: RenderPasses incompatible between %s w/ renderPass 0x%x and %s w/ renderPass 0x%x: %s.",
			api, aWhat, uint64(a.handle), bWhat, uint64(b.handle), why)
	}
	return false
}
