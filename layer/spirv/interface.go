package spirv

import (
	"sort"
)

// InterfaceVar is one variable (or block member) of a shader interface.
type InterfaceVar struct {
	ID     uint32
	TypeID uint32
	// Offset is the location offset inside a multi-location variable.
	Offset             uint32
	IsPatch            bool
	IsBlockMember      bool
	IsRelaxedPrecision bool
}

// Location keys the location-based interfaces.
type Location struct {
	Location  uint32
	Component uint32
}

func (l Location) Less(o Location) bool {
	if l.Location != o.Location {
		return l.Location < o.Location
	}
	return l.Component < o.Component
}

// LocatedVar pairs a location with the variable occupying it.
type LocatedVar struct {
	Location Location
	Var      InterfaceVar
}

func sortedLocations(byLoc map[Location]InterfaceVar) []LocatedVar {
	out := make([]LocatedVar, 0, len(byLoc))
	for loc, v := range byLoc {
		out = append(out, LocatedVar{Location: loc, Var: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location.Less(out[j].Location) })
	return out
}

// isBuiltinBlock reports whether a variable type is a block of built-ins such as gl_PerVertex.
func (m *Module) isBuiltinBlock(typeID uint32) bool {
	insn, ok := m.StripArrays(typeID)
	if !ok || insn.Opcode() != OpTypeStruct {
		return false
	}
	structID := insn.Word(1)
	for member := uint32(0); member < uint32(insn.Len()-2); member++ {
		if m.MemberDecorations(structID, member).BuiltIn >= 0 {
			return true
		}
	}
	return false
}

// structType returns the struct behind a variable type, dropping the per-vertex array when arrayed.
func (m *Module) structType(typeID uint32, arrayed bool) (Instruction, bool) {
	insn, ok := m.Def(typeID)
	if ok && insn.Opcode() == OpTypePointer {
		insn, ok = m.Def(insn.Word(3))
	}
	if ok && arrayed && insn.Opcode() == OpTypeArray {
		insn, ok = m.Def(insn.Word(2))
	}
	if !ok || insn.Opcode() != OpTypeStruct {
		return Instruction{}, false
	}
	return insn, true
}

/**
 * @brief Collects the Input or Output interface of an entry point keyed by (location, component).
 * Variables spanning several locations get one entry per location. Built-ins are skipped.
 * @param arrayed set for interfaces wrapped in a per-vertex array (tessellation, geometry).
 * @returns the entries sorted by location then component.
 */
func (m *Module) CollectInterfaceByLocation(ep *Entrypoint, sinterface StorageClass, arrayed bool) []LocatedVar {
	out := make(map[Location]InterfaceVar)

	for _, id := range ep.Interface {
		insn, ok := m.Def(id)
		if !ok || insn.Opcode() != OpVariable || StorageClass(insn.Word(3)) != sinterface {
			continue
		}
		deco := m.Decorations(id)
		typeID := insn.Word(1)
		if deco.BuiltIn >= 0 || m.isBuiltinBlock(typeID) {
			continue
		}
		isArrayOfVerts := arrayed && !deco.Patch

		if st, ok := m.structType(typeID, isArrayOfVerts); ok && m.hasMemberDecorations(st.Word(1)) {
			structID := st.Word(1)
			for member := uint32(0); member < uint32(st.Len()-2); member++ {
				md := m.MemberDecorations(structID, member)
				if md.Location < 0 {
					continue
				}
				memberType := st.Word(2 + int(member))
				n := m.LocationsConsumed(memberType, false)
				for offset := uint32(0); offset < n; offset++ {
					out[Location{Location: uint32(md.Location) + offset, Component: md.Component}] = InterfaceVar{
						ID:                 id,
						TypeID:             memberType,
						Offset:             offset,
						IsPatch:            deco.Patch,
						IsBlockMember:      true,
						IsRelaxedPrecision: deco.RelaxedPrecision || md.RelaxedPrecision,
					}
				}
			}
			continue
		}
		if deco.Location < 0 {
			// No location: nothing we can match on.
			continue
		}

		n := m.LocationsConsumed(typeID, isArrayOfVerts)
		for offset := uint32(0); offset < n; offset++ {
			out[Location{Location: uint32(deco.Location) + offset, Component: deco.Component}] = InterfaceVar{
				ID:                 id,
				TypeID:             typeID,
				Offset:             offset,
				IsPatch:            deco.Patch,
				IsRelaxedPrecision: deco.RelaxedPrecision,
			}
		}
	}
	return sortedLocations(out)
}

// DescriptorUse is a resource variable read or written through a descriptor.
type DescriptorUse struct {
	Set      uint32
	Binding  uint32
	Var      InterfaceVar
	Writable bool
}

func (m *Module) isWritable(id, typeID uint32, sc StorageClass) bool {
	if m.Decorations(id).NonWritable {
		return false
	}
	insn, ok := m.StripArrays(typeID)
	if !ok {
		return false
	}
	switch insn.Opcode() {
	case OpTypeStruct:
		return sc == StorageClassStorageBuffer || m.Decorations(insn.Word(1)).BufferBlock
	case OpTypeImage:
		return insn.Word(7) == 2 && Dim(insn.Word(3)) != DimSubpassData
	}
	return false
}

// CollectInterfaceByDescriptorSlot returns the accessible resource variables sorted by (set, binding).
func (m *Module) CollectInterfaceByDescriptorSlot(accessible IDSet) []DescriptorUse {
	var out []DescriptorUse
	m.Instructions(func(insn Instruction) bool {
		if insn.Opcode() != OpVariable {
			return true
		}
		sc := StorageClass(insn.Word(3))
		if sc != StorageClassUniform && sc != StorageClassUniformConstant && sc != StorageClassStorageBuffer {
			return true
		}
		id := insn.Word(2)
		if !accessible.Has(id) {
			return true
		}
		deco := m.Decorations(id)
		out = append(out, DescriptorUse{
			Set:      deco.Set,
			Binding:  deco.Binding,
			Var:      InterfaceVar{ID: id, TypeID: insn.Word(1)},
			Writable: m.isWritable(id, insn.Word(1), sc),
		})
		return true
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Set != out[j].Set {
			return out[i].Set < out[j].Set
		}
		return out[i].Binding < out[j].Binding
	})
	return out
}

// InputAttachmentUse is a subpass input read by a fragment shader.
type InputAttachmentUse struct {
	Index uint32
	Var   InterfaceVar
}

// CollectInputAttachments returns the accessible subpass inputs keyed by input attachment index.
// Arrays of inputs take consecutive indices.
func (m *Module) CollectInputAttachments(accessible IDSet) []InputAttachmentUse {
	var out []InputAttachmentUse
	m.Instructions(func(insn Instruction) bool {
		if insn.Opcode() != OpVariable || StorageClass(insn.Word(3)) != StorageClassUniformConstant {
			return true
		}
		id := insn.Word(2)
		deco := m.Decorations(id)
		if deco.InputAttachmentIndex < 0 || !accessible.Has(id) {
			return true
		}
		n := m.DescriptorCount(insn.Word(1))
		for i := uint32(0); i < n; i++ {
			out = append(out, InputAttachmentUse{
				Index: uint32(deco.InputAttachmentIndex) + i,
				Var:   InterfaceVar{ID: id, TypeID: insn.Word(1), Offset: i},
			})
		}
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// PushConstantBlock is an accessible push constant variable and the offsets of its members.
type PushConstantBlock struct {
	Var     InterfaceVar
	Offsets []uint32
}

func (m *Module) PushConstantBlocks(accessible IDSet) []PushConstantBlock {
	var out []PushConstantBlock
	m.Instructions(func(insn Instruction) bool {
		if insn.Opcode() != OpVariable || StorageClass(insn.Word(3)) != StorageClassPushConstant {
			return true
		}
		id := insn.Word(2)
		if !accessible.Has(id) {
			return true
		}
		block := PushConstantBlock{Var: InterfaceVar{ID: id, TypeID: insn.Word(1)}}
		if st, ok := m.structType(insn.Word(1), false); ok {
			for member := uint32(0); member < uint32(st.Len()-2); member++ {
				if off := m.MemberDecorations(st.Word(1), member).Offset; off >= 0 {
					block.Offsets = append(block.Offsets, uint32(off))
				}
			}
		}
		out = append(out, block)
		return true
	})
	return out
}

// StageInfo describes the interface shape of a pipeline stage.
type StageInfo struct {
	Model         ExecutionModel
	ArrayedInput  bool
	ArrayedOutput bool
}

// StageInfoFor returns the interface shape of an execution model.
func StageInfoFor(model ExecutionModel) StageInfo {
	switch model {
	case ExecutionModelTessellationControl:
		return StageInfo{Model: model, ArrayedInput: true, ArrayedOutput: true}
	case ExecutionModelTessellationEvaluation, ExecutionModelGeometry:
		return StageInfo{Model: model, ArrayedInput: true}
	}
	return StageInfo{Model: model}
}
