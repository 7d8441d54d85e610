package spirv

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Instruction is a view of one instruction inside a module's word stream.
type Instruction struct {
	words  []uint32
	offset int
}

func (i Instruction) Opcode() Op {
	return Op(i.words[i.offset] & 0xffff)
}

// Len is the instruction length in words, opcode word included.
func (i Instruction) Len() int {
	return int(i.words[i.offset] >> 16)
}

func (i Instruction) Word(n int) uint32 {
	return i.words[i.offset+n]
}

// Offset is the position of the opcode word in the module.
func (i Instruction) Offset() int {
	return i.offset
}

type decorationRecord struct {
	decoration Decoration
	value      uint32
}

// Module is a decoded SPIR-V module with its definition index. A module that fails
// structural validation is still returned, with Valid reporting false.
type Module struct {
	words []uint32
	valid bool
	err   error
	bound uint32

	defs         map[uint32]int
	decos        map[uint32][]decorationRecord
	memberDecos  map[uint32]map[uint32][]decorationRecord
	entrypoints  []Entrypoint
	capabilities []Capability
	// pointer ids declared ahead of their OpTypePointer
	forward map[uint32]struct{}
}

// ParseBytes decodes little-endian module bytes.
func ParseBytes(code []byte) *Module {
	if len(code)%4 != 0 {
		m := &Module{defs: map[uint32]int{}}
		m.err = errors.Wrapf(errInvalid, "code size %d is not a multiple of 4", len(code))
		return m
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return Parse(words)
}

func Parse(words []uint32) *Module {
	m := &Module{
		words:       words,
		defs:        make(map[uint32]int),
		decos:       make(map[uint32][]decorationRecord),
		memberDecos: make(map[uint32]map[uint32][]decorationRecord),
		forward:     make(map[uint32]struct{}),
	}
	m.err = m.index()
	m.valid = m.err == nil
	return m
}

func (m *Module) Valid() bool {
	return m.valid
}

// Err explains why the module is not valid.
func (m *Module) Err() error {
	return m.err
}

func (m *Module) Words() []uint32 {
	return m.words
}

// Bound is the id bound from the header.
func (m *Module) Bound() uint32 {
	return m.bound
}

func (m *Module) Capabilities() []Capability {
	return m.capabilities
}

func (m *Module) Entrypoints() []Entrypoint {
	return m.entrypoints
}

// Def returns the instruction defining id.
func (m *Module) Def(id uint32) (Instruction, bool) {
	off, ok := m.defs[id]
	if !ok {
		return Instruction{}, false
	}
	return Instruction{words: m.words, offset: off}, true
}

// Instructions calls fn for every instruction after the header until fn returns false.
func (m *Module) Instructions(fn func(insn Instruction) bool) {
	m.instructionsFrom(HeaderWords, fn)
}

func (m *Module) instructionsFrom(offset int, fn func(insn Instruction) bool) {
	for offset < len(m.words) {
		wc := int(m.words[offset] >> 16)
		if wc == 0 || offset+wc > len(m.words) {
			return
		}
		if !fn(Instruction{words: m.words, offset: offset}) {
			return
		}
		offset += wc
	}
}

func (m *Module) index() error {
	if len(m.words) < HeaderWords {
		return errors.Wrapf(errInvalid, "module is %d words, shorter than the header", len(m.words))
	}
	switch m.words[0] {
	case Magic:
	case MagicSwapped:
		return errors.Wrap(errInvalid, "module has the wrong endianness")
	default:
		return errors.Wrapf(errInvalid, "bad magic number 0x%08x", m.words[0])
	}
	m.bound = m.words[3]

	var err error
	offset := HeaderWords
	for offset < len(m.words) {
		wc := int(m.words[offset] >> 16)
		if wc == 0 {
			return errors.Wrapf(errInvalid, "zero length instruction at word %d", offset)
		}
		if offset+wc > len(m.words) {
			return errors.Wrapf(errInvalid, "instruction at word %d runs past the end of the module", offset)
		}
		insn := Instruction{words: m.words, offset: offset}
		if err = m.indexInstruction(insn); err != nil {
			return err
		}
		offset += wc
	}
	return m.checkReferences()
}

var errInvalid = errors.New("invalid SPIR-V")

func (m *Module) define(insn Instruction, word int) error {
	if insn.Len() <= word {
		return errors.Wrapf(errInvalid, "opcode %d at word %d is truncated", insn.Opcode(), insn.offset)
	}
	id := insn.Word(word)
	if id == 0 || id >= m.bound {
		return errors.Wrapf(errInvalid, "result id %d is outside the id bound %d", id, m.bound)
	}
	if _, dup := m.defs[id]; dup {
		return errors.Wrapf(errInvalid, "id %d is defined twice", id)
	}
	m.defs[id] = insn.offset
	return nil
}

// Minimum lengths of the instructions whose operands are read without further checks.
var minWords = map[Op]int{
	OpTypeInt:             4,
	OpTypeFloat:           3,
	OpTypeVector:          4,
	OpTypeMatrix:          4,
	OpTypeImage:           9,
	OpTypeSampledImage:    3,
	OpTypeArray:           4,
	OpTypeRuntimeArray:    3,
	OpTypePointer:         4,
	OpConstant:            4,
	OpVariable:            4,
	OpFunction:            5,
	OpEntryPoint:          4,
	OpGroupDecorate:       2,
	OpGroupMemberDecorate: 2,
}

func (m *Module) indexInstruction(insn Instruction) error {
	op := insn.Opcode()
	if n, ok := minWords[op]; ok && insn.Len() < n {
		return errors.Wrapf(errInvalid, "opcode %d at word %d is truncated", op, insn.offset)
	}
	switch {
	// Types
	case op >= OpTypeVoid && op <= OpTypePipe:
		return m.define(insn, 1)
	// Fixed constants, specialization constants, variables and functions
	case op >= OpConstantTrue && op <= OpConstantNull,
		op >= OpSpecConstantTrue && op <= OpSpecConstantOp,
		op == OpVariable, op == OpFunction:
		return m.define(insn, 2)
	}

	switch op {
	case OpTypeForwardPointer:
		if insn.Len() < 3 {
			return errors.Wrap(errInvalid, "truncated OpTypeForwardPointer")
		}
		m.forward[insn.Word(1)] = struct{}{}
	case OpCapability:
		if insn.Len() < 2 {
			return errors.Wrap(errInvalid, "truncated OpCapability")
		}
		m.capabilities = append(m.capabilities, Capability(insn.Word(1)))
	case OpEntryPoint:
		ep, err := decodeEntrypoint(insn)
		if err != nil {
			return err
		}
		m.entrypoints = append(m.entrypoints, ep)
	case OpDecorate:
		if insn.Len() < 3 {
			return errors.Wrap(errInvalid, "truncated OpDecorate")
		}
		rec := decorationRecord{decoration: Decoration(insn.Word(2))}
		if insn.Len() > 3 {
			rec.value = insn.Word(3)
		}
		m.decos[insn.Word(1)] = append(m.decos[insn.Word(1)], rec)
	case OpMemberDecorate:
		if insn.Len() < 4 {
			return errors.Wrap(errInvalid, "truncated OpMemberDecorate")
		}
		rec := decorationRecord{decoration: Decoration(insn.Word(3))}
		if insn.Len() > 4 {
			rec.value = insn.Word(4)
		}
		m.addMemberDecoration(insn.Word(1), insn.Word(2), rec)
	case OpDecorationGroup:
		return m.define(insn, 1)
	case OpGroupDecorate:
		group := m.decos[insn.Word(1)]
		for i := 2; i < insn.Len(); i++ {
			target := insn.Word(i)
			m.decos[target] = append(m.decos[target], group...)
		}
	case OpGroupMemberDecorate:
		group := m.decos[insn.Word(1)]
		for i := 2; i+1 < insn.Len(); i += 2 {
			for _, rec := range group {
				m.addMemberDecoration(insn.Word(i), insn.Word(i+1), rec)
			}
		}
	}
	return nil
}

func (m *Module) addMemberDecoration(structID, member uint32, rec decorationRecord) {
	members, ok := m.memberDecos[structID]
	if !ok {
		members = make(map[uint32][]decorationRecord)
		m.memberDecos[structID] = members
	}
	members[member] = append(members[member], rec)
}

// requireDef checks that id is defined before user. Only struct members may name a pointer
// declared with OpTypeForwardPointer ahead of its definition.
func (m *Module) requireDef(id uint32, user Instruction) error {
	off, ok := m.defs[id]
	if !ok {
		return errors.Wrapf(errInvalid, "opcode %d at word %d references undefined id %d", user.Opcode(), user.offset, id)
	}
	if off < user.offset {
		return nil
	}
	if user.Opcode() == OpTypeStruct && m.IsForwardPointer(id) {
		return nil
	}
	return errors.Wrapf(errInvalid, "opcode %d at word %d references id %d before its definition", user.Opcode(), user.offset, id)
}

// IsForwardPointer reports whether id was declared with OpTypeForwardPointer. Type walks stop
// at such pointers, since they are the only way a type can contain itself.
func (m *Module) IsForwardPointer(id uint32) bool {
	_, ok := m.forward[id]
	return ok
}

// checkReferences verifies that type operands are defined before use and that entry point
// functions resolve.
func (m *Module) checkReferences() error {
	var err error
	m.Instructions(func(insn Instruction) bool {
		var refs []uint32
		switch insn.Opcode() {
		case OpTypeVector, OpTypeMatrix, OpTypeRuntimeArray, OpTypeSampledImage:
			refs = []uint32{insn.Word(2)}
		case OpTypeImage:
			refs = []uint32{insn.Word(2)}
		case OpTypeArray:
			refs = []uint32{insn.Word(2), insn.Word(3)}
		case OpTypePointer:
			refs = []uint32{insn.Word(3)}
		case OpTypeStruct:
			for i := 2; i < insn.Len(); i++ {
				refs = append(refs, insn.Word(i))
			}
		case OpVariable:
			refs = []uint32{insn.Word(1)}
		}
		for _, id := range refs {
			if err = m.requireDef(id, insn); err != nil {
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	for _, ep := range m.entrypoints {
		def, ok := m.Def(ep.Function)
		if !ok || def.Opcode() != OpFunction {
			return errors.Wrapf(errInvalid, "entry point %q names id %d which is not a function", ep.Name, ep.Function)
		}
	}
	return nil
}

// IsInvalid reports whether err came from structural validation.
func IsInvalid(err error) bool {
	return errors.Is(err, errInvalid)
}
