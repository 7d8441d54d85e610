package spirv

// IDSet is a set of result ids.
type IDSet map[uint32]struct{}

func (s IDSet) Has(id uint32) bool {
	_, ok := s[id]
	return ok
}

/**
 * @brief Computes the ids reachable from an entry point: the functions it calls and the
 * variables, images and samplers those functions touch. Only those count as used by the
 * pipeline stage.
 */
func (m *Module) MarkAccessibleIDs(ep *Entrypoint) IDSet {
	ids := make(IDSet)
	worklist := []uint32{ep.Function}

	for len(worklist) > 0 {
		id := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if ids.Has(id) {
			continue
		}
		ids[id] = struct{}{}

		def, ok := m.Def(id)
		if !ok || def.Opcode() != OpFunction {
			// Not a function: nothing further to walk.
			continue
		}

		m.instructionsFrom(def.offset, func(insn Instruction) bool {
			push := func(n int) {
				if n < insn.Len() && !ids.Has(insn.Word(n)) {
					worklist = append(worklist, insn.Word(n))
				}
			}
			op := insn.Opcode()
			switch {
			case op == OpFunctionEnd:
				return false
			case op == OpLoad, op >= OpAtomicLoad && op <= OpAtomicXor && op != OpAtomicStore:
				// ptr
				push(3)
			case op == OpStore, op == OpAtomicStore:
				// ptr
				push(1)
			case op == OpCopyMemory, op == OpCopyMemorySized:
				push(1)
				push(2)
			case op == OpAccessChain, op == OpInBoundsAccessChain,
				op == OpPtrAccessChain, op == OpInBoundsPtrAccessChain,
				op == OpArrayLength, op == OpImageTexelPointer:
				// base ptr
				push(3)
			case op == OpSampledImage:
				// image and sampler
				push(3)
				push(4)
			case op == OpImageWrite:
				push(1)
			case op >= OpImageSampleImplicitLod && op <= OpImageQuerySamples,
				op >= OpImageSparseSampleImplLod && op <= OpImageSparseDrefGather,
				op == OpImageSparseRead:
				// image or sampled image
				push(3)
			case op == OpFunctionCall:
				// fn itself, and all args
				for i := 3; i < insn.Len(); i++ {
					push(i)
				}
			case op == OpExtInst:
				// operands to ext inst
				for i := 5; i < insn.Len(); i++ {
					push(i)
				}
			}
			return true
		})
	}
	return ids
}
