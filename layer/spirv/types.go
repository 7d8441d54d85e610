package spirv

import (
	"fmt"
	"strings"
)

// FundamentalType is the numeric class of a scalar, vector or matrix, as a bitmask so
// format tables can list several compatible classes.
type FundamentalType uint32

const (
	FundamentalFloat FundamentalType = 1 << iota
	FundamentalSint
	FundamentalUint
)

func (f FundamentalType) String() string {
	var parts []string
	if f&FundamentalFloat != 0 {
		parts = append(parts, "float")
	}
	if f&FundamentalSint != 0 {
		parts = append(parts, "sint")
	}
	if f&FundamentalUint != 0 {
		parts = append(parts, "uint")
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

func isNarrowNumeric(insn Instruction) bool {
	if insn.Opcode() != OpTypeInt && insn.Opcode() != OpTypeFloat {
		return false
	}
	return insn.Word(2) < 64
}

/**
 * @brief Walks two type trees together. Pointers match on pointee, whatever the storage class.
 * An arrayed side may drop one level of array, the per-vertex wrapping of tessellation and
 * geometry interfaces. Relaxed matching lets a producer vector of a narrow (sub 64-bit)
 * element type stand in for a consumer scalar or a consumer vector of no more components.
 */
func TypesMatch(a *Module, aType uint32, b *Module, bType uint32, aArrayed, bArrayed, relaxed bool) bool {
	aInsn, ok := a.Def(aType)
	if !ok {
		return false
	}
	bInsn, ok := b.Def(bType)
	if !ok {
		return false
	}

	if aArrayed && aInsn.Opcode() == OpTypeArray {
		return TypesMatch(a, aInsn.Word(2), b, bType, false, bArrayed, relaxed)
	}
	if bArrayed && bInsn.Opcode() == OpTypeArray {
		// The extra level of arrayness is on b: compare what it wraps to a.
		return TypesMatch(a, aType, b, bInsn.Word(2), aArrayed, false, relaxed)
	}
	if aInsn.Opcode() == OpTypeVector && relaxed && isNarrowNumeric(bInsn) {
		return TypesMatch(a, aInsn.Word(2), b, bType, aArrayed, bArrayed, false)
	}
	if aInsn.Opcode() != bInsn.Opcode() {
		return false
	}
	if aInsn.Opcode() == OpTypePointer {
		return TypesMatch(a, aInsn.Word(3), b, bInsn.Word(3), aArrayed, bArrayed, relaxed)
	}
	if aArrayed || bArrayed {
		// Array-of-verts not resolved by now never will be.
		return false
	}

	switch aInsn.Opcode() {
	case OpTypeBool:
		return true
	case OpTypeInt:
		// width and signedness
		return aInsn.Word(2) == bInsn.Word(2) && aInsn.Word(3) == bInsn.Word(3)
	case OpTypeFloat:
		return aInsn.Word(2) == bInsn.Word(2)
	case OpTypeVector:
		if !TypesMatch(a, aInsn.Word(2), b, bInsn.Word(2), false, false, false) {
			return false
		}
		if elem, ok := a.Def(aInsn.Word(2)); ok && relaxed && isNarrowNumeric(elem) {
			return aInsn.Word(3) >= bInsn.Word(3)
		}
		return aInsn.Word(3) == bInsn.Word(3)
	case OpTypeMatrix:
		return TypesMatch(a, aInsn.Word(2), b, bInsn.Word(2), false, false, relaxed) && aInsn.Word(3) == bInsn.Word(3)
	case OpTypeArray:
		// Same layout either way, so no relaxation on the element type.
		return TypesMatch(a, aInsn.Word(2), b, bInsn.Word(2), false, false, false) &&
			a.ConstantValue(aInsn.Word(3)) == b.ConstantValue(bInsn.Word(3))
	case OpTypeStruct:
		if aInsn.Len() != bInsn.Len() {
			return false
		}
		for i := 2; i < aInsn.Len(); i++ {
			aFwd, bFwd := a.IsForwardPointer(aInsn.Word(i)), b.IsForwardPointer(bInsn.Word(i))
			if aFwd || bFwd {
				if aFwd != bFwd {
					return false
				}
				continue
			}
			if !TypesMatch(a, aInsn.Word(i), b, bInsn.Word(i), false, false, relaxed) {
				return false
			}
		}
		return true
	}
	// Remaining types are CLisms or never appear in stage interfaces.
	return false
}

// ConstantValue resolves an OpConstant. Specialization constants and unknown ids count as 1.
func (m *Module) ConstantValue(id uint32) uint32 {
	def, ok := m.Def(id)
	if !ok || def.Opcode() != OpConstant {
		return 1
	}
	return def.Word(3)
}

// FundamentalType strips pointers, arrays, matrices and vectors down to the scalar class.
func (m *Module) FundamentalType(typeID uint32) FundamentalType {
	insn, ok := m.Def(typeID)
	if !ok {
		return 0
	}
	switch insn.Opcode() {
	case OpTypeInt:
		if insn.Word(3) != 0 {
			return FundamentalSint
		}
		return FundamentalUint
	case OpTypeFloat:
		return FundamentalFloat
	case OpTypeVector, OpTypeMatrix, OpTypeArray, OpTypeRuntimeArray:
		return m.FundamentalType(insn.Word(2))
	case OpTypePointer:
		return m.FundamentalType(insn.Word(3))
	}
	return 0
}

// ScalarWidth is the bit width of the innermost scalar, 0 when there is none.
func (m *Module) ScalarWidth(typeID uint32) uint32 {
	insn, ok := m.Def(typeID)
	if !ok {
		return 0
	}
	switch insn.Opcode() {
	case OpTypeInt, OpTypeFloat:
		return insn.Word(2)
	case OpTypeVector, OpTypeMatrix, OpTypeArray, OpTypeRuntimeArray:
		return m.ScalarWidth(insn.Word(2))
	case OpTypePointer:
		return m.ScalarWidth(insn.Word(3))
	}
	return 0
}

// ComponentCount is the vector width of a scalar or vector type, looking through pointers.
func (m *Module) ComponentCount(typeID uint32) uint32 {
	insn, ok := m.Def(typeID)
	if !ok {
		return 0
	}
	switch insn.Opcode() {
	case OpTypePointer:
		return m.ComponentCount(insn.Word(3))
	case OpTypeVector:
		return insn.Word(3)
	case OpTypeInt, OpTypeFloat, OpTypeBool:
		return 1
	}
	return 0
}

/**
 * @brief Counts the interface locations a type occupies. Each location holds 128 bits, so
 * only 64-bit three and four component vectors take two.
 * @param stripArrayLevel drops the outer per-vertex array of arrayed interfaces.
 */
func (m *Module) LocationsConsumed(typeID uint32, stripArrayLevel bool) uint32 {
	insn, ok := m.Def(typeID)
	if !ok {
		return 1
	}
	switch insn.Opcode() {
	case OpTypePointer:
		// See through the ptr -- this is only ever at the toplevel for graphics shaders
		return m.LocationsConsumed(insn.Word(3), stripArrayLevel)
	case OpTypeArray:
		if stripArrayLevel {
			return m.LocationsConsumed(insn.Word(2), false)
		}
		return m.ConstantValue(insn.Word(3)) * m.LocationsConsumed(insn.Word(2), false)
	case OpTypeMatrix:
		// Num locations is the dimension * element size
		return insn.Word(3) * m.LocationsConsumed(insn.Word(2), false)
	case OpTypeVector:
		scalar, ok := m.Def(insn.Word(2))
		if !ok || (scalar.Opcode() != OpTypeInt && scalar.Opcode() != OpTypeFloat) {
			return 1
		}
		if scalar.Word(2)*insn.Word(3) > 128 {
			return 2
		}
		return 1
	}
	return 1
}

// DescriptorCount is the number of descriptors a resource variable type needs.
func (m *Module) DescriptorCount(typeID uint32) uint32 {
	insn, ok := m.Def(typeID)
	if !ok {
		return 1
	}
	switch insn.Opcode() {
	case OpTypePointer:
		return m.DescriptorCount(insn.Word(3))
	case OpTypeArray:
		return m.ConstantValue(insn.Word(3)) * m.DescriptorCount(insn.Word(2))
	}
	return 1
}

// StripArrays looks through pointers and arrays and returns the resource type underneath.
func (m *Module) StripArrays(typeID uint32) (Instruction, bool) {
	insn, ok := m.Def(typeID)
	for ok {
		switch insn.Opcode() {
		case OpTypePointer:
			insn, ok = m.Def(insn.Word(3))
		case OpTypeArray, OpTypeRuntimeArray:
			insn, ok = m.Def(insn.Word(2))
		default:
			return insn, true
		}
	}
	return Instruction{}, false
}

// ImageType is the decoded form of an OpTypeImage.
type ImageType struct {
	SampledType FundamentalType
	Dim         Dim
	Depth       uint32
	Arrayed     bool
	MS          bool
	// 1 when used with a sampler, 2 when used as a storage image.
	Sampled uint32
}

// ImageInfo finds the image type behind a resource variable type, looking through
// pointers, arrays and sampled images.
func (m *Module) ImageInfo(typeID uint32) (ImageType, bool) {
	insn, ok := m.StripArrays(typeID)
	if ok && insn.Opcode() == OpTypeSampledImage {
		insn, ok = m.Def(insn.Word(2))
	}
	if !ok || insn.Opcode() != OpTypeImage {
		return ImageType{}, false
	}
	return ImageType{
		SampledType: m.FundamentalType(insn.Word(2)),
		Dim:         Dim(insn.Word(3)),
		Depth:       insn.Word(4),
		Arrayed:     insn.Word(5) != 0,
		MS:          insn.Word(6) != 0,
		Sampled:     insn.Word(7),
	}, true
}

// DescribeType renders a type for diagnostics, e.g. "ptr to Output vec4 of float32".
func (m *Module) DescribeType(typeID uint32) string {
	var sb strings.Builder
	m.describeType(&sb, typeID)
	return sb.String()
}

func (m *Module) describeType(sb *strings.Builder, typeID uint32) {
	insn, ok := m.Def(typeID)
	if !ok {
		fmt.Fprintf(sb, "undefined(%d)", typeID)
		return
	}
	switch insn.Opcode() {
	case OpTypeBool:
		sb.WriteString("bool")
	case OpTypeInt:
		if insn.Word(3) != 0 {
			fmt.Fprintf(sb, "sint%d", insn.Word(2))
		} else {
			fmt.Fprintf(sb, "uint%d", insn.Word(2))
		}
	case OpTypeFloat:
		fmt.Fprintf(sb, "float%d", insn.Word(2))
	case OpTypeVector:
		fmt.Fprintf(sb, "vec%d of ", insn.Word(3))
		m.describeType(sb, insn.Word(2))
	case OpTypeMatrix:
		fmt.Fprintf(sb, "mat%d of ", insn.Word(3))
		m.describeType(sb, insn.Word(2))
	case OpTypeArray:
		fmt.Fprintf(sb, "arr[%d] of ", m.ConstantValue(insn.Word(3)))
		m.describeType(sb, insn.Word(2))
	case OpTypeRuntimeArray:
		sb.WriteString("runtime arr[] of ")
		m.describeType(sb, insn.Word(2))
	case OpTypePointer:
		fmt.Fprintf(sb, "ptr to %s ", StorageClass(insn.Word(2)))
		m.describeType(sb, insn.Word(3))
	case OpTypeStruct:
		sb.WriteString("struct of (")
		for i := 2; i < insn.Len(); i++ {
			if m.IsForwardPointer(insn.Word(i)) {
				sb.WriteString("forward ptr")
			} else {
				m.describeType(sb, insn.Word(i))
			}
			if i < insn.Len()-1 {
				sb.WriteString(", ")
			}
		}
		sb.WriteString(")")
	case OpTypeSampler:
		sb.WriteString("sampler")
	case OpTypeSampledImage:
		sb.WriteString("sampler+")
		m.describeType(sb, insn.Word(2))
	case OpTypeImage:
		fmt.Fprintf(sb, "image(dim=%d, sampled=%d)", insn.Word(3), insn.Word(7))
	default:
		sb.WriteString("oddtype")
	}
}
