package systems

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/vkcheck/layer/config"
	"github.com/spaghettifunk/vkcheck/layer/core"
	"github.com/spaghettifunk/vkcheck/layer/spirv"
	"github.com/spaghettifunk/vkcheck/layer/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func computeSPIRV() []byte {
	b := spirv.NewBuilder()
	b.Capability(spirv.CapabilityShader)
	f32 := b.TypeFloat(32)
	vec4 := b.TypeVector(f32, 4)
	block := b.TypeStruct(b.TypeRuntimeArray(vec4))
	b.Decorate(block, spirv.DecorationBufferBlock)
	data := b.Variable(b.TypePointer(spirv.StorageClassUniform, block), spirv.StorageClassUniform)
	b.Decorate(data, spirv.DecorationDescriptorSet, 1)
	b.Decorate(data, spirv.DecorationBinding, 3)

	void := b.TypeVoid()
	main := b.Function(void, b.TypeFunction(void))
	zero := b.Constant(b.TypeInt(32, false), 0)
	b.Load(vec4, b.AccessChain(b.TypePointer(spirv.StorageClassUniform, vec4), data, zero, zero))
	b.FunctionEnd()
	b.EntryPoint(spirv.ExecutionModelGLCompute, main, "main")
	return b.Bytes()
}

// stageSPIRV writes or reads one vec4 at location 0.
func stageSPIRV(model spirv.ExecutionModel, sc spirv.StorageClass, integer bool) []byte {
	b := spirv.NewBuilder()
	b.Capability(spirv.CapabilityShader)
	scalar := b.TypeFloat(32)
	if integer {
		scalar = b.TypeInt(32, true)
	}
	v := b.Variable(b.TypePointer(sc, b.TypeVector(scalar, 4)), sc)
	b.Decorate(v, spirv.DecorationLocation, 0)
	void := b.TypeVoid()
	fn := b.Function(void, b.TypeFunction(void))
	b.FunctionEnd()
	b.EntryPoint(model, fn, "main", v)
	return b.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newShaderFixture(t *testing.T) (*ShaderSystem, *vulkan.Device) {
	t.Helper()
	ss, err := NewShaderSystem(&ShaderSystemConfig{MaxShaderCount: 4})
	require.NoError(t, err)
	dev := vulkan.NewDevice(vulkan.DeviceCreateInfo{}, core.NewReporter(), config.Default().Validation)
	return ss, dev
}

func TestLoadShaderFile(t *testing.T) {
	dir := t.TempDir()

	code, err := LoadShaderFile(writeFile(t, dir, "c.spv", computeSPIRV()))
	require.NoError(t, err)
	assert.True(t, spirv.ParseBytes(code).Valid())

	code, err = LoadShaderFile(writeFile(t, dir, "tri.WGSL", []byte(wgslTriangle)))
	require.NoError(t, err)
	assert.True(t, spirv.ParseBytes(code).Valid())

	_, err = LoadShaderFile(writeFile(t, dir, "tri.glsl", []byte("void main() {}")))
	assert.ErrorIs(t, err, core.ErrUnknownExtension)

	_, err = LoadShaderFile(writeFile(t, dir, "broken.wgsl", []byte("fn {")))
	assert.Error(t, err)

	_, err = LoadShaderFile(filepath.Join(dir, "missing.spv"))
	assert.Error(t, err)
}

func TestShaderSystemAcquireAndRelease(t *testing.T) {
	_, err := NewShaderSystem(&ShaderSystemConfig{})
	require.Error(t, err)

	ss, dev := newShaderFixture(t)
	dir := t.TempDir()

	path := writeFile(t, dir, "compute.spv", computeSPIRV())
	s, err := ss.Acquire(dev, path)
	require.NoError(t, err)
	assert.Equal(t, "compute", s.Name)
	assert.NotZero(t, s.Handle)

	again, err := ss.Acquire(dev, path)
	require.NoError(t, err)
	assert.Same(t, s, again)

	slots := s.DescriptorSlots()
	require.Len(t, slots, 1)
	assert.Equal(t, "main", slots[0].Entrypoint)
	assert.Equal(t, spirv.ExecutionModelGLCompute, slots[0].Model)
	assert.EqualValues(t, 1, slots[0].Set)
	assert.EqualValues(t, 3, slots[0].Binding)
	assert.True(t, slots[0].Writable)
	assert.NotEmpty(t, slots[0].Type)

	bad := writeFile(t, dir, "bad.spv", []byte{1, 2, 3, 4, 5, 6, 7, 8})
	_, err = ss.Acquire(dev, bad)
	assert.ErrorIs(t, err, core.ErrInvalidBytecode)
	assert.EqualValues(t, 1, dev.Reporter().Metrics().Code(int32(vulkan.CodeInvalidShaderModule)))
	_, ok := ss.Get(bad)
	assert.False(t, ok)

	require.NoError(t, ss.Release(path))
	_, ok = ss.Get(path)
	assert.False(t, ok)
	assert.Error(t, ss.Release(path))
}

func TestShaderSystemIsBounded(t *testing.T) {
	ss, dev := newShaderFixture(t)
	dir := t.TempDir()

	for _, name := range []string{"a.spv", "b.spv", "c.spv", "d.spv"} {
		_, err := ss.Acquire(dev, writeFile(t, dir, name, computeSPIRV()))
		require.NoError(t, err)
	}
	_, err := ss.Acquire(dev, writeFile(t, dir, "e.spv", computeSPIRV()))
	assert.Error(t, err)

	require.NoError(t, ss.Shutdown())
	_, err = ss.Acquire(dev, filepath.Join(dir, "e.spv"))
	assert.NoError(t, err)
}

func TestLinkStages(t *testing.T) {
	ss, dev := newShaderFixture(t)
	dir := t.TempDir()

	vs, err := ss.Acquire(dev, writeFile(t, dir, "vs.spv", stageSPIRV(spirv.ExecutionModelVertex, spirv.StorageClassOutput, false)))
	require.NoError(t, err)
	fs, err := ss.Acquire(dev, writeFile(t, dir, "fs.spv", stageSPIRV(spirv.ExecutionModelFragment, spirv.StorageClassInput, false)))
	require.NoError(t, err)
	ifs, err := ss.Acquire(dev, writeFile(t, dir, "ifs.spv", stageSPIRV(spirv.ExecutionModelFragment, spirv.StorageClassInput, true)))
	require.NoError(t, err)

	// order of the arguments does not matter, stages are sorted
	assert.Empty(t, LinkStages(fs, vs))

	findings := LinkStages(vs, ifs)
	require.Len(t, findings, 1)
	assert.Equal(t, spirv.FindingTypeMismatch, findings[0].Kind)
	assert.Equal(t, "vs:main", findings[0].Producer)
	assert.Equal(t, "ifs:main", findings[0].Consumer)

	c, err := ss.Acquire(dev, writeFile(t, dir, "c.spv", computeSPIRV()))
	require.NoError(t, err)
	assert.Empty(t, LinkStages(c, vs, fs))
}

func TestLinkStagesWithinOneWGSLFile(t *testing.T) {
	ss, dev := newShaderFixture(t)
	s, err := ss.Acquire(dev, writeFile(t, t.TempDir(), "triangle.wgsl", []byte(wgslTriangle)))
	require.NoError(t, err)

	for _, f := range LinkStages(s) {
		assert.NotEqual(t, spirv.FindingTypeMismatch, f.Kind, f.Message)
		assert.NotEqual(t, spirv.FindingInputNotProduced, f.Kind, f.Message)
	}
}
