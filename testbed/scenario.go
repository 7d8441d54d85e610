package testbed

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer"
	"github.com/spaghettifunk/vkcheck/layer/core"
	"github.com/spaghettifunk/vkcheck/layer/spirv"
	"github.com/spaghettifunk/vkcheck/layer/vulkan"
)

type Setup func(d *Driver) error
type Run func(d *Driver) error

// Scenario is a scripted sequence of API calls and the diagnostics it must produce.
type Scenario struct {
	Name        string
	Description string
	// Codes the run must report, in this order. Others may be interleaved.
	Expect []vulkan.Code
	State  interface{}

	FnSetup Setup
	FnRun   Run
}

type Result struct {
	Scenario string
	Codes    []vulkan.Code
	Missing  []vulkan.Code
	Passed   bool
}

/**
 * @brief Runs the scenario on a fresh device created from the instance. Diagnostics from
 * setup are discarded.
 * @returns what the run reported and whether it matched the expectation.
 */
func RunScenario(inst *layer.Instance, s *Scenario) (*Result, error) {
	dev, err := inst.CreateDevice(layer.ReferenceDevice().Info)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := inst.DestroyDevice(dev); err != nil {
			core.LogWarn("%s", err)
		}
	}()

	d := NewDriver(dev)
	defer d.Close()

	if s.FnSetup != nil {
		if err := s.FnSetup(d); err != nil {
			return nil, errors.Wrapf(err, "scenario %s setup", s.Name)
		}
	}
	d.Clear()

	if err := s.FnRun(d); err != nil {
		return nil, errors.Wrapf(err, "scenario %s", s.Name)
	}

	r := &Result{Scenario: s.Name, Codes: d.Codes()}
	r.Missing = missing(s.Expect, r.Codes)
	r.Passed = len(r.Missing) == 0
	core.Logger("scenario", s.Name, "reported", len(r.Codes), "passed", r.Passed).Info("scenario finished")
	return r, nil
}

// missing returns the tail of want that got does not contain as a subsequence.
func missing(want, got []vulkan.Code) []vulkan.Code {
	i := 0
	for _, c := range got {
		if i < len(want) && want[i] == c {
			i++
		}
	}
	return want[i:]
}

// Scenarios returns the built-in scenarios. Each call returns fresh state.
func Scenarios() []*Scenario {
	return []*Scenario{
		newUnboundDescriptorSet(),
		newDoubleFree(),
		newSubpassCountMismatch(),
		newGuardOverwrite(),
		newSubpassOutOfRange(),
		newMissingDependency(),
		newInvalidatedRecording(),
	}
}

// storageBufferShader reads one storage buffer at set 0, binding 0.
func storageBufferShader() []byte {
	b := spirv.NewBuilder()
	b.Capability(spirv.CapabilityShader)
	f32 := b.TypeFloat(32)
	vec4 := b.TypeVector(f32, 4)
	block := b.TypeStruct(b.TypeRuntimeArray(vec4))
	b.Decorate(block, spirv.DecorationBufferBlock)
	data := b.Variable(b.TypePointer(spirv.StorageClassUniform, block), spirv.StorageClassUniform)
	b.Decorate(data, spirv.DecorationDescriptorSet, 0)
	b.Decorate(data, spirv.DecorationBinding, 0)

	void := b.TypeVoid()
	main := b.Function(void, b.TypeFunction(void))
	zero := b.Constant(b.TypeInt(32, false), 0)
	b.Load(vec4, b.AccessChain(b.TypePointer(spirv.StorageClassUniform, vec4), data, zero, zero))
	b.FunctionEnd()
	b.EntryPoint(spirv.ExecutionModelGLCompute, main, "main")
	return b.Bytes()
}

type pipelineState struct {
	pipeline vulkan.Pipeline
}

func newUnboundDescriptorSet() *Scenario {
	s := &Scenario{
		Name:        "unbound-descriptor-set",
		Description: "dispatch with a pipeline that reads set 0 before any set was bound",
		Expect:      []vulkan.Code{vulkan.CodeDescriptorSetNotBound},
		State:       &pipelineState{},
	}
	s.FnSetup = func(d *Driver) error {
		st := s.State.(*pipelineState)
		module, res := d.ShaderModule(storageBufferShader())
		if res != vk.Success {
			return errors.New("vkCreateShaderModule failed")
		}
		layout := d.PipelineLayout(d.SetLayout(vulkan.DescriptorSetLayoutBinding{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		}))
		if st.pipeline, res = d.ComputePipeline(layout, module); res != vk.Success {
			return errors.New("vkCreateComputePipelines failed")
		}
		return nil
	}
	s.FnRun = func(d *Driver) error {
		st := s.State.(*pipelineState)
		cb := d.CommandBuffer(vk.CommandBufferLevelPrimary)
		if d.Begin(cb) != vk.Success {
			return errors.New("vkBeginCommandBuffer failed")
		}
		if !d.Cmd(
			func() bool { return d.Device.ValidateCmdBindPipeline(cb, vk.PipelineBindPointCompute, st.pipeline) },
			func() { d.Device.RecordCmdBindPipeline(cb, vk.PipelineBindPointCompute, st.pipeline) }) {
			return errors.New("vkCmdBindPipeline was skipped")
		}
		d.Cmd(
			func() bool { return d.Device.ValidateCmdDispatch(cb, 1, 1, 1) },
			func() { d.Device.RecordCmdDispatch(cb, 1, 1, 1) })
		return nil
	}
	return s
}

type copyState struct {
	memory   vulkan.DeviceMemory
	src, dst vulkan.Buffer
}

func (st *copyState) create(d *Driver) error {
	var err error
	if st.memory, err = d.Allocate(1024, MemoryTypeDeviceLocal); err != nil {
		return err
	}
	if st.src, err = d.Buffer(512, vk.BufferUsageTransferSrcBit); err != nil {
		return err
	}
	if st.dst, err = d.Buffer(256, vk.BufferUsageTransferDstBit); err != nil {
		return err
	}
	return nil
}

func (st *copyState) record(d *Driver, cb vulkan.CommandBuffer) {
	regions := []vk.BufferCopy{{Size: 64}}
	d.Cmd(
		func() bool { return d.Device.ValidateCmdCopyBuffer(cb, st.src, st.dst, regions) },
		func() { d.Device.RecordCmdCopyBuffer(cb, st.src, st.dst, regions) })
}

func newDoubleFree() *Scenario {
	s := &Scenario{
		Name:        "double-free",
		Description: "copy from a buffer whose memory was freed and into one that was never bound",
		Expect:      []vulkan.Code{vulkan.CodeBoundMemoryFreed, vulkan.CodeMemoryNotBound},
		State:       &copyState{},
	}
	s.FnSetup = func(d *Driver) error {
		st := s.State.(*copyState)
		if err := st.create(d); err != nil {
			return err
		}
		if d.BindBuffer(st.src, st.memory, 0) != vk.Success {
			return errors.New("vkBindBufferMemory failed")
		}
		if d.Free(st.memory) != vk.Success {
			return errors.New("vkFreeMemory failed")
		}
		return nil
	}
	s.FnRun = func(d *Driver) error {
		st := s.State.(*copyState)
		cb := d.CommandBuffer(vk.CommandBufferLevelPrimary)
		if d.Begin(cb) != vk.Success {
			return errors.New("vkBeginCommandBuffer failed")
		}
		st.record(d, cb)
		return nil
	}
	return s
}

func newInvalidatedRecording() *Scenario {
	s := &Scenario{
		Name:        "invalidated-recording",
		Description: "submit a command buffer after freeing memory it references",
		Expect:      []vulkan.Code{vulkan.CodeUsesInvalidatedObject},
		State:       &copyState{},
	}
	s.FnSetup = func(d *Driver) error {
		st := s.State.(*copyState)
		if err := st.create(d); err != nil {
			return err
		}
		if d.BindBuffer(st.src, st.memory, 0) != vk.Success || d.BindBuffer(st.dst, st.memory, 512) != vk.Success {
			return errors.New("vkBindBufferMemory failed")
		}
		return nil
	}
	s.FnRun = func(d *Driver) error {
		st := s.State.(*copyState)
		cb := d.CommandBuffer(vk.CommandBufferLevelPrimary)
		if d.Begin(cb) != vk.Success {
			return errors.New("vkBeginCommandBuffer failed")
		}
		st.record(d, cb)
		if d.End(cb) != vk.Success {
			return errors.New("vkEndCommandBuffer failed")
		}
		if d.Free(st.memory) != vk.Success {
			return errors.New("vkFreeMemory failed")
		}
		d.Submit(d.Queue(), 0, vulkan.SubmitInfo{CommandBuffers: []vulkan.CommandBuffer{cb}})
		return nil
	}
	return s
}

type renderState struct {
	renderPass  vulkan.RenderPass
	framebuffer vulkan.Framebuffer
}

func (st *renderState) create(d *Driver, subpasses int) error {
	rp, res := d.RenderPass(vulkan.RenderPassCreateInfo{Subpasses: GraphicsSubpasses(subpasses)})
	if res != vk.Success {
		return errors.New("render pass creation failed")
	}
	fb, res := d.Framebuffer(rp, nil, 16, 16)
	if res != vk.Success {
		return errors.New("framebuffer creation failed")
	}
	st.renderPass, st.framebuffer = rp, fb
	return nil
}

func (st *renderState) begin(d *Driver, cb vulkan.CommandBuffer, contents vk.SubpassContents) error {
	if d.Begin(cb) != vk.Success {
		return errors.New("vkBeginCommandBuffer failed")
	}
	info := vulkan.RenderPassBeginInfo{
		RenderPass:  st.renderPass,
		Framebuffer: st.framebuffer,
		RenderArea:  vk.Rect2D{Extent: vk.Extent2D{Width: 16, Height: 16}},
	}
	if !d.Cmd(
		func() bool { return d.Device.ValidateCmdBeginRenderPass(cb, info, contents) },
		func() { d.Device.RecordCmdBeginRenderPass(cb, info, contents) }) {
		return errors.New("vkCmdBeginRenderPass was skipped")
	}
	return nil
}

type mismatchState struct {
	primary   renderState
	secondary vulkan.RenderPass
}

func newSubpassCountMismatch() *Scenario {
	s := &Scenario{
		Name:        "subpass-count-mismatch",
		Description: "execute a secondary recorded for a two subpass render pass inside a three subpass one",
		Expect:      []vulkan.Code{vulkan.CodeRenderPassIncompatible},
		State:       &mismatchState{},
	}
	s.FnSetup = func(d *Driver) error {
		st := s.State.(*mismatchState)
		if err := st.primary.create(d, 3); err != nil {
			return err
		}
		rp, res := d.RenderPass(vulkan.RenderPassCreateInfo{Subpasses: GraphicsSubpasses(2)})
		if res != vk.Success {
			return errors.New("render pass creation failed")
		}
		st.secondary = rp
		return nil
	}
	s.FnRun = func(d *Driver) error {
		st := s.State.(*mismatchState)
		sec := d.CommandBuffer(vk.CommandBufferLevelSecondary)
		res := d.BeginWith(sec, vulkan.CommandBufferBeginInfo{
			Flags:       vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit),
			Inheritance: &vulkan.CommandBufferInheritanceInfo{RenderPass: st.secondary},
		})
		if res != vk.Success || d.End(sec) != vk.Success {
			return errors.New("recording the secondary failed")
		}

		primary := d.CommandBuffer(vk.CommandBufferLevelPrimary)
		if err := st.primary.begin(d, primary, vk.SubpassContentsSecondaryCommandBuffers); err != nil {
			return err
		}
		secondaries := []vulkan.CommandBuffer{sec}
		d.Cmd(
			func() bool { return d.Device.ValidateCmdExecuteCommands(primary, secondaries) },
			func() { d.Device.RecordCmdExecuteCommands(primary, secondaries) })
		return nil
	}
	return s
}

func newSubpassOutOfRange() *Scenario {
	s := &Scenario{
		Name:        "subpass-out-of-range",
		Description: "end a two subpass render pass without advancing, then end the command buffer",
		Expect:      []vulkan.Code{vulkan.CodeSubpassOutOfRange, vulkan.CodeStillInsideRenderPass},
		State:       &renderState{},
	}
	s.FnSetup = func(d *Driver) error {
		return s.State.(*renderState).create(d, 2)
	}
	s.FnRun = func(d *Driver) error {
		st := s.State.(*renderState)
		cb := d.CommandBuffer(vk.CommandBufferLevelPrimary)
		if err := st.begin(d, cb, vk.SubpassContentsInline); err != nil {
			return err
		}
		d.Cmd(
			func() bool { return d.Device.ValidateCmdEndRenderPass(cb) },
			func() { d.Device.RecordCmdEndRenderPass(cb) })
		d.End(cb)
		return nil
	}
	return s
}

func newMissingDependency() *Scenario {
	s := &Scenario{
		Name:        "missing-dependency",
		Description: "read an attachment as input in the subpass after the one writing it, with no dependency",
		Expect:      []vulkan.Code{vulkan.CodeMissingSubpassDependency},
	}
	s.FnRun = func(d *Driver) error {
		subpasses := GraphicsSubpasses(2)
		subpasses[0].ColorAttachments = []vk.AttachmentReference{{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal}}
		subpasses[1].InputAttachments = []vk.AttachmentReference{{Attachment: 0, Layout: vk.ImageLayoutShaderReadOnlyOptimal}}
		d.RenderPass(vulkan.RenderPassCreateInfo{
			Attachments: []vk.AttachmentDescription{{
				Format:         vk.FormatR8g8b8a8Unorm,
				Samples:        vk.SampleCount1Bit,
				LoadOp:         vk.AttachmentLoadOpClear,
				StoreOp:        vk.AttachmentStoreOpStore,
				StencilLoadOp:  vk.AttachmentLoadOpDontCare,
				StencilStoreOp: vk.AttachmentStoreOpDontCare,
				InitialLayout:  vk.ImageLayoutUndefined,
				FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
			}},
			Subpasses: subpasses,
		})
		return nil
	}
	return s
}

type mappingState struct {
	memory vulkan.DeviceMemory
	driver []byte
}

func newGuardOverwrite() *Scenario {
	s := &Scenario{
		Name:        "guard-overwrite",
		Description: "write one byte past a non-coherent mapping and flush it",
		Expect:      []vulkan.Code{vulkan.CodeMapGuardOverwritten},
		State:       &mappingState{driver: make([]byte, 256)},
	}
	s.FnSetup = func(d *Driver) error {
		st := s.State.(*mappingState)
		var err error
		st.memory, err = d.Allocate(uint64(len(st.driver)), MemoryTypeHostCached)
		return err
	}
	s.FnRun = func(d *Driver) error {
		st := s.State.(*mappingState)
		out, err := d.MapMemory(st.memory, 0, vulkan.WholeSize, st.driver)
		if err != nil {
			return err
		}
		for i := range out {
			out[i] = byte(i)
		}
		// the shadow copy keeps its guard band behind the returned slice
		past := out[:cap(out)]
		if len(past) == len(out) {
			return errors.New("mapping has no guard band")
		}
		past[len(out)] = 0

		ranges := []vulkan.MappedMemoryRange{{Memory: st.memory, Offset: 0, Size: vulkan.WholeSize}}
		// the flush itself has no state to record
		d.Device.ValidateFlushMappedMemoryRanges(ranges)
		return nil
	}
	return s
}
