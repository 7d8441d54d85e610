package spirv

import (
	"testing"

	"github.com/gogpu/naga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stageModule builds a module with one entry point that writes (or reads) a single
// location-0 variable of the given type.
func stageModule(t *testing.T, model ExecutionModel, sc StorageClass, varType func(b *Builder) uint32) *Module {
	t.Helper()
	b := NewBuilder()
	b.Capability(CapabilityShader)

	ptr := b.TypePointer(sc, varType(b))
	v := b.Variable(ptr, sc)
	b.Decorate(v, DecorationLocation, 0)

	void := b.TypeVoid()
	fn := b.Function(void, b.TypeFunction(void))
	b.FunctionEnd()
	b.EntryPoint(model, fn, "main", v)

	m := Parse(b.Words())
	require.True(t, m.Valid(), "%v", m.Err())
	return m
}

func vec4Of(scalar func(b *Builder) uint32) func(b *Builder) uint32 {
	return func(b *Builder) uint32 { return b.TypeVector(scalar(b), 4) }
}

func float32T(b *Builder) uint32 { return b.TypeFloat(32) }
func int32T(b *Builder) uint32   { return b.TypeInt(32, true) }

func TestParseRejectsMalformedModules(t *testing.T) {
	assert.False(t, Parse([]uint32{Magic, 0x10000, 0}).Valid())

	bad := Parse([]uint32{0xdeadbeef, 0x10000, 0, 10, 0})
	require.False(t, bad.Valid())
	assert.True(t, IsInvalid(bad.Err()))

	assert.False(t, Parse([]uint32{MagicSwapped, 0x10000, 0, 10, 0}).Valid())

	// OpTypeVoid claiming four words with only two present.
	assert.False(t, Parse([]uint32{Magic, 0x10000, 0, 10, 0, 4<<16 | uint32(OpTypeVoid), 1}).Valid())

	// Pointer to an undefined type.
	assert.False(t, Parse([]uint32{Magic, 0x10000, 0, 10, 0, 4<<16 | uint32(OpTypePointer), 1, 3, 7}).Valid())

	// Result id beyond the bound.
	assert.False(t, Parse([]uint32{Magic, 0x10000, 0, 2, 0, 2<<16 | uint32(OpTypeVoid), 5}).Valid())

	assert.False(t, ParseBytes([]byte{1, 2, 3}).Valid())
}

func TestParseRejectsTypesThatContainThemselves(t *testing.T) {
	header := []uint32{Magic, 0x10000, 0, 10, 0}
	module := func(insns ...uint32) *Module {
		return Parse(append(append([]uint32{}, header...), insns...))
	}
	output := uint32(StorageClassOutput)

	// %1 = OpTypePointer Output %1, used by an Output variable
	self := module(
		4<<16|uint32(OpTypePointer), 1, output, 1,
		4<<16|uint32(OpVariable), 1, 2, output)
	require.False(t, self.Valid())
	assert.True(t, IsInvalid(self.Err()))

	// %3 = OpTypeArray %3 %2
	assert.False(t, module(
		4<<16|uint32(OpTypeInt), 1, 32, 0,
		4<<16|uint32(OpConstant), 1, 2, 4,
		4<<16|uint32(OpTypeArray), 3, 3, 2).Valid())

	// a vector of a scalar declared after it
	assert.False(t, module(
		4<<16|uint32(OpTypeVector), 1, 2, 4,
		3<<16|uint32(OpTypeFloat), 2, 32).Valid())
}

func TestForwardPointerStructIsWalkable(t *testing.T) {
	psb := uint32(StorageClassPhysicalStorageBuffer)
	// struct node { uint32 value; node* next; }
	m := Parse([]uint32{Magic, 0x10000, 0, 10, 0,
		3<<16 | uint32(OpTypeForwardPointer), 1, psb,
		4<<16 | uint32(OpTypeInt), 2, 32, 0,
		4<<16 | uint32(OpTypeStruct), 3, 2, 1,
		4<<16 | uint32(OpTypePointer), 1, psb, 3,
	})
	require.True(t, m.Valid(), "%v", m.Err())
	assert.True(t, m.IsForwardPointer(1))
	assert.Contains(t, m.DescribeType(3), "forward ptr")
	assert.True(t, TypesMatch(m, 3, m, 3, false, false, false))
	assert.Equal(t, FundamentalUint, m.FundamentalType(2))
}

func TestParseBytesRoundTrip(t *testing.T) {
	b := NewBuilder()
	void := b.TypeVoid()
	fn := b.Function(void, b.TypeFunction(void))
	b.FunctionEnd()
	b.EntryPoint(ExecutionModelGLCompute, fn, "compute_main")

	m := ParseBytes(b.Bytes())
	require.True(t, m.Valid(), "%v", m.Err())
	assert.Equal(t, b.Words(), m.Words())

	ep, ok := m.FindEntrypoint("compute_main", ExecutionModelGLCompute)
	require.True(t, ok)
	assert.Equal(t, fn, ep.Function)

	_, ok = m.FindEntrypoint("compute_main", ExecutionModelVertex)
	assert.False(t, ok)
	_, ok = m.FindEntrypoint("main", ExecutionModelGLCompute)
	assert.False(t, ok)

	def, ok := m.Def(fn)
	require.True(t, ok)
	assert.Equal(t, OpFunction, def.Opcode())
}

func TestInterfaceRoundTripTypeMismatch(t *testing.T) {
	vs := stageModule(t, ExecutionModelVertex, StorageClassOutput, vec4Of(float32T))
	fs := stageModule(t, ExecutionModelFragment, StorageClassInput, vec4Of(int32T))

	vsEP, _ := vs.FindEntrypoint("main", ExecutionModelVertex)
	fsEP, _ := fs.FindEntrypoint("main", ExecutionModelFragment)

	findings := ValidateInterfaceBetweenStages(
		vs, vsEP, StageInfoFor(ExecutionModelVertex),
		fs, fsEP, StageInfoFor(ExecutionModelFragment))
	require.Len(t, findings, 1)
	assert.Equal(t, FindingTypeMismatch, findings[0].Kind)
	assert.Equal(t, Location{Location: 0}, findings[0].Location)
	assert.Contains(t, findings[0].Message, "float32")
	assert.Contains(t, findings[0].Message, "sint32")

	same := stageModule(t, ExecutionModelFragment, StorageClassInput, vec4Of(float32T))
	sameEP, _ := same.FindEntrypoint("main", ExecutionModelFragment)
	assert.Empty(t, ValidateInterfaceBetweenStages(
		vs, vsEP, StageInfoFor(ExecutionModelVertex),
		same, sameEP, StageInfoFor(ExecutionModelFragment)))
}

func TestInterfaceMissingLocations(t *testing.T) {
	b := NewBuilder()
	f32 := b.TypeFloat(32)
	v4 := b.TypeVector(f32, 4)
	out0 := b.Variable(b.TypePointer(StorageClassOutput, v4), StorageClassOutput)
	b.Decorate(out0, DecorationLocation, 0)
	out2 := b.Variable(b.TypePointer(StorageClassOutput, v4), StorageClassOutput)
	b.Decorate(out2, DecorationLocation, 2)
	void := b.TypeVoid()
	fn := b.Function(void, b.TypeFunction(void))
	b.FunctionEnd()
	b.EntryPoint(ExecutionModelVertex, fn, "main", out0, out2)
	vs := Parse(b.Words())
	require.True(t, vs.Valid(), "%v", vs.Err())

	fb := NewBuilder()
	ff32 := fb.TypeFloat(32)
	fv4 := fb.TypeVector(ff32, 4)
	in1 := fb.Variable(fb.TypePointer(StorageClassInput, fv4), StorageClassInput)
	fb.Decorate(in1, DecorationLocation, 1)
	in2 := fb.Variable(fb.TypePointer(StorageClassInput, fv4), StorageClassInput)
	fb.Decorate(in2, DecorationLocation, 2)
	fvoid := fb.TypeVoid()
	ffn := fb.Function(fvoid, fb.TypeFunction(fvoid))
	fb.FunctionEnd()
	fb.EntryPoint(ExecutionModelFragment, ffn, "main", in1, in2)
	fs := Parse(fb.Words())
	require.True(t, fs.Valid(), "%v", fs.Err())

	vsEP, _ := vs.FindEntrypoint("main", ExecutionModelVertex)
	fsEP, _ := fs.FindEntrypoint("main", ExecutionModelFragment)
	findings := ValidateInterfaceBetweenStages(
		vs, vsEP, StageInfoFor(ExecutionModelVertex),
		fs, fsEP, StageInfoFor(ExecutionModelFragment))

	require.Len(t, findings, 2)
	assert.Equal(t, FindingOutputNotConsumed, findings[0].Kind)
	assert.Equal(t, uint32(0), findings[0].Location.Location)
	assert.Equal(t, FindingInputNotProduced, findings[1].Kind)
	assert.Equal(t, uint32(1), findings[1].Location.Location)
}

func TestLocationsConsumed(t *testing.T) {
	b := NewBuilder()
	f32 := b.TypeFloat(32)
	f64 := b.TypeFloat(64)
	vec4 := b.TypeVector(f32, 4)
	dvec2 := b.TypeVector(f64, 2)
	dvec4 := b.TypeVector(f64, 4)
	mat4 := b.TypeMatrix(vec4, 4)
	arr3 := b.TypeArray(vec4, 3)
	m := Parse(b.Words())
	require.True(t, m.Valid(), "%v", m.Err())

	assert.Equal(t, uint32(1), m.LocationsConsumed(vec4, false))
	assert.Equal(t, uint32(1), m.LocationsConsumed(dvec2, false))
	assert.Equal(t, uint32(2), m.LocationsConsumed(dvec4, false))
	assert.Equal(t, uint32(4), m.LocationsConsumed(mat4, false))
	assert.Equal(t, uint32(3), m.LocationsConsumed(arr3, false))
	assert.Equal(t, uint32(1), m.LocationsConsumed(arr3, true))
	assert.Equal(t, "arr[3] of vec4 of float32", m.DescribeType(arr3))
}

func TestMultiLocationVariableExpands(t *testing.T) {
	mat := func(b *Builder) uint32 { return b.TypeMatrix(b.TypeVector(b.TypeFloat(32), 4), 3) }
	vs := stageModule(t, ExecutionModelVertex, StorageClassOutput, mat)
	ep, _ := vs.FindEntrypoint("main", ExecutionModelVertex)

	outs := vs.CollectInterfaceByLocation(ep, StorageClassOutput, false)
	require.Len(t, outs, 3)
	for i, o := range outs {
		assert.Equal(t, uint32(i), o.Location.Location)
		assert.Equal(t, uint32(i), o.Var.Offset)
	}
}

func TestTypesMatchRelaxedAndArrayed(t *testing.T) {
	b := NewBuilder()
	f32 := b.TypeFloat(32)
	vec4 := b.TypeVector(f32, 4)
	vec2 := b.TypeVector(f32, 2)
	perVertex := b.TypeArray(vec4, 3)
	m := Parse(b.Words())
	require.True(t, m.Valid(), "%v", m.Err())

	assert.False(t, TypesMatch(m, vec4, m, vec2, false, false, false))
	assert.True(t, TypesMatch(m, vec4, m, vec2, false, false, true))
	assert.True(t, TypesMatch(m, vec4, m, f32, false, false, true))
	// A narrower producer never covers a wider consumer.
	assert.False(t, TypesMatch(m, vec2, m, vec4, false, false, true))

	assert.True(t, TypesMatch(m, vec4, m, perVertex, false, true, false))
	assert.False(t, TypesMatch(m, vec4, m, perVertex, false, false, false))
}

func TestBuiltinBlocksAreSkipped(t *testing.T) {
	b := NewBuilder()
	f32 := b.TypeFloat(32)
	vec4 := b.TypeVector(f32, 4)
	perVertex := b.TypeStruct(vec4, f32)
	b.MemberDecorate(perVertex, 0, DecorationBuiltIn, 0)
	b.MemberDecorate(perVertex, 1, DecorationBuiltIn, 1)
	b.Decorate(perVertex, DecorationBlock)
	glPerVertex := b.Variable(b.TypePointer(StorageClassOutput, perVertex), StorageClassOutput)
	color := b.Variable(b.TypePointer(StorageClassOutput, vec4), StorageClassOutput)
	b.Decorate(color, DecorationLocation, 1)
	void := b.TypeVoid()
	fn := b.Function(void, b.TypeFunction(void))
	b.FunctionEnd()
	b.EntryPoint(ExecutionModelVertex, fn, "main", glPerVertex, color)

	m := Parse(b.Words())
	require.True(t, m.Valid(), "%v", m.Err())
	ep, _ := m.FindEntrypoint("main", ExecutionModelVertex)
	outs := m.CollectInterfaceByLocation(ep, StorageClassOutput, false)
	require.Len(t, outs, 1)
	assert.Equal(t, color, outs[0].Var.ID)
}

func TestAccessibleIDsAndDescriptorSlots(t *testing.T) {
	b := NewBuilder()
	b.Capability(CapabilityShader)
	f32 := b.TypeFloat(32)
	vec4 := b.TypeVector(f32, 4)
	ubo := b.TypeStruct(vec4)
	b.Decorate(ubo, DecorationBlock)
	b.MemberDecorate(ubo, 0, DecorationOffset, 0)
	ssbo := b.TypeStruct(b.TypeRuntimeArray(vec4))
	b.Decorate(ssbo, DecorationBufferBlock)

	uboVar := b.Variable(b.TypePointer(StorageClassUniform, ubo), StorageClassUniform)
	b.Decorate(uboVar, DecorationDescriptorSet, 1)
	b.Decorate(uboVar, DecorationBinding, 2)
	ssboVar := b.Variable(b.TypePointer(StorageClassUniform, ssbo), StorageClassUniform)
	b.Decorate(ssboVar, DecorationDescriptorSet, 0)
	b.Decorate(ssboVar, DecorationBinding, 5)
	unused := b.Variable(b.TypePointer(StorageClassUniform, ubo), StorageClassUniform)
	b.Decorate(unused, DecorationDescriptorSet, 0)
	b.Decorate(unused, DecorationBinding, 0)

	img := b.TypeImage(f32, Dim2D, 0, false, false, 1)
	texArray := b.Variable(b.TypePointer(StorageClassUniformConstant, b.TypeArray(b.TypeSampledImage(img), 4)), StorageClassUniformConstant)
	b.Decorate(texArray, DecorationDescriptorSet, 0)
	b.Decorate(texArray, DecorationBinding, 1)

	void := b.TypeVoid()
	fnType := b.TypeFunction(void)

	helper := b.Function(void, fnType)
	ptrVec4 := b.TypePointer(StorageClassUniform, vec4)
	zero := b.Constant(b.TypeInt(32, false), 0)
	chain := b.AccessChain(ptrVec4, uboVar, zero)
	b.Load(vec4, chain)
	b.Load(vec4, b.AccessChain(ptrVec4, ssboVar, zero, zero))
	b.FunctionEnd()

	// Never called.
	orphan := b.Function(void, fnType)
	b.Load(ubo, unused)
	b.FunctionEnd()

	main := b.Function(void, fnType)
	b.FunctionCall(void, helper)
	b.Load(b.TypeArray(b.TypeSampledImage(img), 4), texArray)
	b.FunctionEnd()
	b.EntryPoint(ExecutionModelFragment, main, "main")

	m := Parse(b.Words())
	require.True(t, m.Valid(), "%v", m.Err())
	ep, _ := m.FindEntrypoint("main", ExecutionModelFragment)

	ids := m.MarkAccessibleIDs(ep)
	assert.True(t, ids.Has(helper))
	assert.True(t, ids.Has(uboVar))
	assert.False(t, ids.Has(orphan))
	assert.False(t, ids.Has(unused))

	uses := m.CollectInterfaceByDescriptorSlot(ids)
	require.Len(t, uses, 3)
	assert.Equal(t, [2]uint32{0, 1}, [2]uint32{uses[0].Set, uses[0].Binding})
	assert.Equal(t, [2]uint32{0, 5}, [2]uint32{uses[1].Set, uses[1].Binding})
	assert.True(t, uses[1].Writable)
	assert.Equal(t, [2]uint32{1, 2}, [2]uint32{uses[2].Set, uses[2].Binding})
	assert.False(t, uses[2].Writable)

	assert.Equal(t, uint32(4), m.DescriptorCount(uses[0].Var.TypeID))
	info, ok := m.ImageInfo(uses[0].Var.TypeID)
	require.True(t, ok)
	assert.Equal(t, Dim2D, info.Dim)
	assert.Equal(t, FundamentalFloat, info.SampledType)
}

func TestPushConstantOffsetsAndInputAttachments(t *testing.T) {
	b := NewBuilder()
	f32 := b.TypeFloat(32)
	vec4 := b.TypeVector(f32, 4)
	block := b.TypeStruct(vec4, vec4)
	b.Decorate(block, DecorationBlock)
	b.MemberDecorate(block, 0, DecorationOffset, 0)
	b.MemberDecorate(block, 1, DecorationOffset, 16)
	pc := b.Variable(b.TypePointer(StorageClassPushConstant, block), StorageClassPushConstant)

	subpass := b.TypeImage(f32, DimSubpassData, 0, false, false, 2)
	input := b.Variable(b.TypePointer(StorageClassUniformConstant, subpass), StorageClassUniformConstant)
	b.Decorate(input, DecorationInputAttachmentIndex, 1)

	void := b.TypeVoid()
	fn := b.Function(void, b.TypeFunction(void))
	b.Load(block, pc)
	b.Load(subpass, input)
	b.FunctionEnd()
	b.EntryPoint(ExecutionModelFragment, fn, "main")

	m := Parse(b.Words())
	require.True(t, m.Valid(), "%v", m.Err())
	ep, _ := m.FindEntrypoint("main", ExecutionModelFragment)
	ids := m.MarkAccessibleIDs(ep)

	blocks := m.PushConstantBlocks(ids)
	require.Len(t, blocks, 1)
	assert.Equal(t, []uint32{0, 16}, blocks[0].Offsets)

	inputs := m.CollectInputAttachments(ids)
	require.Len(t, inputs, 1)
	assert.Equal(t, uint32(1), inputs[0].Index)
}

const wgslTriangle = `
struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) color: vec4<f32>,
};

@vertex
fn vs_main(@location(0) pos: vec2<f32>) -> VertexOutput {
    var out: VertexOutput;
    out.position = vec4<f32>(pos, 0.0, 1.0);
    out.color = vec4<f32>(1.0, 0.0, 0.0, 1.0);
    return out;
}

@fragment
fn fs_main(@location(0) color: vec4<f32>) -> @location(0) vec4<f32> {
    return color;
}
`

func TestNagaCompiledModule(t *testing.T) {
	code, err := naga.Compile(wgslTriangle)
	require.NoError(t, err)

	m := ParseBytes(code)
	require.True(t, m.Valid(), "%v", m.Err())

	vsEP, ok := m.FindEntrypoint("vs_main", ExecutionModelVertex)
	require.True(t, ok)
	fsEP, ok := m.FindEntrypoint("fs_main", ExecutionModelFragment)
	require.True(t, ok)

	for _, f := range ValidateInterfaceBetweenStages(
		m, vsEP, StageInfoFor(ExecutionModelVertex),
		m, fsEP, StageInfoFor(ExecutionModelFragment)) {
		assert.NotEqual(t, FindingTypeMismatch, f.Kind, f.Message)
		assert.NotEqual(t, FindingInputNotProduced, f.Kind, f.Message)
	}
}
