package spirv

import "encoding/binary"

// Builder assembles small modules instruction by instruction. The scenario driver and
// the tests use it to produce shaders without an external compiler.
type Builder struct {
	nextID uint32

	capabilities []uint32
	entrypoints  []uint32
	annotations  []uint32
	globals      []uint32
	functions    []uint32

	scalars map[[3]uint32]uint32
}

func NewBuilder() *Builder {
	return &Builder{
		nextID:  1,
		scalars: make(map[[3]uint32]uint32),
	}
}

// ID reserves a fresh result id.
func (b *Builder) ID() uint32 {
	id := b.nextID
	b.nextID++
	return id
}

func emit(dst *[]uint32, op Op, operands ...uint32) {
	*dst = append(*dst, uint32(len(operands)+1)<<16|uint32(op))
	*dst = append(*dst, operands...)
}

func encodeString(s string) []uint32 {
	raw := append([]byte(s), 0)
	for len(raw)%4 != 0 {
		raw = append(raw, 0)
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words
}

func (b *Builder) Capability(c Capability) {
	emit(&b.capabilities, OpCapability, uint32(c))
}

func (b *Builder) EntryPoint(model ExecutionModel, fn uint32, name string, iface ...uint32) {
	operands := []uint32{uint32(model), fn}
	operands = append(operands, encodeString(name)...)
	operands = append(operands, iface...)
	emit(&b.entrypoints, OpEntryPoint, operands...)
}

func (b *Builder) Decorate(id uint32, d Decoration, literals ...uint32) {
	emit(&b.annotations, OpDecorate, append([]uint32{id, uint32(d)}, literals...)...)
}

func (b *Builder) MemberDecorate(structID, member uint32, d Decoration, literals ...uint32) {
	emit(&b.annotations, OpMemberDecorate, append([]uint32{structID, member, uint32(d)}, literals...)...)
}

func (b *Builder) scalar(op Op, operands ...uint32) uint32 {
	key := [3]uint32{uint32(op)}
	copy(key[1:], operands)
	if id, ok := b.scalars[key]; ok {
		return id
	}
	id := b.ID()
	emit(&b.globals, op, append([]uint32{id}, operands...)...)
	b.scalars[key] = id
	return id
}

func (b *Builder) TypeVoid() uint32 {
	return b.scalar(OpTypeVoid)
}

func (b *Builder) TypeBool() uint32 {
	return b.scalar(OpTypeBool)
}

func (b *Builder) TypeInt(width uint32, signed bool) uint32 {
	s := uint32(0)
	if signed {
		s = 1
	}
	return b.scalar(OpTypeInt, width, s)
}

func (b *Builder) TypeFloat(width uint32) uint32 {
	return b.scalar(OpTypeFloat, width)
}

func (b *Builder) typed(op Op, operands ...uint32) uint32 {
	id := b.ID()
	emit(&b.globals, op, append([]uint32{id}, operands...)...)
	return id
}

func (b *Builder) TypeVector(elem, count uint32) uint32 {
	return b.typed(OpTypeVector, elem, count)
}

func (b *Builder) TypeMatrix(column, count uint32) uint32 {
	return b.typed(OpTypeMatrix, column, count)
}

// TypeArray declares an array whose length is a fresh 32-bit unsigned constant.
func (b *Builder) TypeArray(elem, length uint32) uint32 {
	lengthID := b.Constant(b.TypeInt(32, false), length)
	return b.typed(OpTypeArray, elem, lengthID)
}

func (b *Builder) TypeRuntimeArray(elem uint32) uint32 {
	return b.typed(OpTypeRuntimeArray, elem)
}

func (b *Builder) TypeStruct(members ...uint32) uint32 {
	return b.typed(OpTypeStruct, members...)
}

func (b *Builder) TypePointer(sc StorageClass, pointee uint32) uint32 {
	return b.typed(OpTypePointer, uint32(sc), pointee)
}

func (b *Builder) TypeImage(sampledType uint32, dim Dim, depth uint32, arrayed, ms bool, sampled uint32) uint32 {
	return b.typed(OpTypeImage, sampledType, uint32(dim), depth, boolWord(arrayed), boolWord(ms), sampled, 0)
}

func (b *Builder) TypeSampler() uint32 {
	return b.typed(OpTypeSampler)
}

func (b *Builder) TypeSampledImage(image uint32) uint32 {
	return b.typed(OpTypeSampledImage, image)
}

func (b *Builder) TypeFunction(ret uint32, params ...uint32) uint32 {
	return b.typed(OpTypeFunction, append([]uint32{ret}, params...)...)
}

func (b *Builder) Constant(typeID, value uint32) uint32 {
	id := b.ID()
	emit(&b.globals, OpConstant, typeID, id, value)
	return id
}

func (b *Builder) SpecConstant(typeID, value uint32) uint32 {
	id := b.ID()
	emit(&b.globals, OpSpecConstant, typeID, id, value)
	return id
}

// Variable declares a module-scope variable of pointer type ptrType.
func (b *Builder) Variable(ptrType uint32, sc StorageClass) uint32 {
	id := b.ID()
	emit(&b.globals, OpVariable, ptrType, id, uint32(sc))
	return id
}

// Function opens a function body with its entry label.
func (b *Builder) Function(ret, fnType uint32) uint32 {
	id := b.ID()
	emit(&b.functions, OpFunction, ret, id, 0, fnType)
	emit(&b.functions, OpLabel, b.ID())
	return id
}

func (b *Builder) Load(resultType, ptr uint32) uint32 {
	id := b.ID()
	emit(&b.functions, OpLoad, resultType, id, ptr)
	return id
}

func (b *Builder) Store(ptr, object uint32) {
	emit(&b.functions, OpStore, ptr, object)
}

func (b *Builder) AccessChain(resultType, base uint32, indices ...uint32) uint32 {
	id := b.ID()
	emit(&b.functions, OpAccessChain, append([]uint32{resultType, id, base}, indices...)...)
	return id
}

func (b *Builder) FunctionCall(resultType, fn uint32, args ...uint32) uint32 {
	id := b.ID()
	emit(&b.functions, OpFunctionCall, append([]uint32{resultType, id, fn}, args...)...)
	return id
}

func (b *Builder) FunctionEnd() {
	emit(&b.functions, OpReturn)
	emit(&b.functions, OpFunctionEnd)
}

// Words returns the finished module.
func (b *Builder) Words() []uint32 {
	words := []uint32{Magic, 0x00010000, 0, b.nextID, 0}
	words = append(words, b.capabilities...)
	memoryModel := []uint32{}
	// Logical GLSL450
	emit(&memoryModel, OpMemoryModel, 0, 1)
	words = append(words, memoryModel...)
	words = append(words, b.entrypoints...)
	words = append(words, b.annotations...)
	words = append(words, b.globals...)
	words = append(words, b.functions...)
	return words
}

func (b *Builder) Bytes() []byte {
	words := b.Words()
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func boolWord(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
