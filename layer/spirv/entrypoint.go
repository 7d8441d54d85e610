package spirv

import "github.com/cockroachdb/errors"

// Entrypoint is one OpEntryPoint: its execution model, function and interface variable ids.
type Entrypoint struct {
	Name      string
	Model     ExecutionModel
	Function  uint32
	Interface []uint32
	offset    int
}

func decodeEntrypoint(insn Instruction) (Entrypoint, error) {
	name, n := decodeString(insn.words[insn.offset+3 : insn.offset+insn.Len()])
	if n < 0 {
		return Entrypoint{}, errors.Wrapf(errInvalid, "entry point name at word %d is not terminated", insn.offset)
	}
	ep := Entrypoint{
		Name:     name,
		Model:    ExecutionModel(insn.Word(1)),
		Function: insn.Word(2),
		offset:   insn.offset,
	}
	for i := 3 + n; i < insn.Len(); i++ {
		ep.Interface = append(ep.Interface, insn.Word(i))
	}
	return ep, nil
}

// decodeString reads a nul-terminated literal string packed little-endian into words.
// It returns the number of words used, or -1 if no terminator was found.
func decodeString(words []uint32) (string, int) {
	var buf []byte
	for i, w := range words {
		for b := 0; b < 4; b++ {
			c := byte(w >> (8 * b))
			if c == 0 {
				return string(buf), i + 1
			}
			buf = append(buf, c)
		}
	}
	return "", -1
}

// FindEntrypoint looks an entry point up by name and execution model.
func (m *Module) FindEntrypoint(name string, model ExecutionModel) (*Entrypoint, bool) {
	for i := range m.entrypoints {
		if m.entrypoints[i].Name == name && m.entrypoints[i].Model == model {
			return &m.entrypoints[i], true
		}
	}
	return nil, false
}

// Decorations collects the decorations of an id or struct member that the validators care about.
type Decorations struct {
	Location             int64
	Component            uint32
	BuiltIn              int64
	Set                  uint32
	Binding              uint32
	InputAttachmentIndex int64
	Offset               int64
	SpecID               int64
	Patch                bool
	RelaxedPrecision     bool
	Block                bool
	BufferBlock          bool
	NonWritable          bool
	Flat                 bool
}

func buildDecorations(records []decorationRecord) Decorations {
	d := Decorations{
		Location:             -1,
		BuiltIn:              -1,
		InputAttachmentIndex: -1,
		Offset:               -1,
		SpecID:               -1,
	}
	for _, r := range records {
		switch r.decoration {
		case DecorationLocation:
			d.Location = int64(r.value)
		case DecorationComponent:
			d.Component = r.value
		case DecorationBuiltIn:
			d.BuiltIn = int64(r.value)
		case DecorationDescriptorSet:
			d.Set = r.value
		case DecorationBinding:
			d.Binding = r.value
		case DecorationInputAttachmentIndex:
			d.InputAttachmentIndex = int64(r.value)
		case DecorationOffset:
			d.Offset = int64(r.value)
		case DecorationSpecID:
			d.SpecID = int64(r.value)
		case DecorationPatch:
			d.Patch = true
		case DecorationRelaxedPrecision:
			d.RelaxedPrecision = true
		case DecorationBlock:
			d.Block = true
		case DecorationBufferBlock:
			d.BufferBlock = true
		case DecorationNonWritable:
			d.NonWritable = true
		case DecorationFlat:
			d.Flat = true
		}
	}
	return d
}

func (m *Module) Decorations(id uint32) Decorations {
	return buildDecorations(m.decos[id])
}

func (m *Module) MemberDecorations(structID, member uint32) Decorations {
	return buildDecorations(m.memberDecos[structID][member])
}

func (m *Module) hasMemberDecorations(structID uint32) bool {
	return len(m.memberDecos[structID]) > 0
}
