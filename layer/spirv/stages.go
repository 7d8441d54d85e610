package spirv

import "fmt"

type FindingKind int

const (
	// An output location no later stage reads.
	FindingOutputNotConsumed FindingKind = iota
	// An input location no earlier stage writes.
	FindingInputNotProduced
	FindingTypeMismatch
	FindingPatchMismatch
	FindingPrecisionMismatch
)

func (k FindingKind) String() string {
	switch k {
	case FindingOutputNotConsumed:
		return "output not consumed"
	case FindingInputNotProduced:
		return "input not produced"
	case FindingTypeMismatch:
		return "type mismatch"
	case FindingPatchMismatch:
		return "patch decoration mismatch"
	case FindingPrecisionMismatch:
		return "precision decoration mismatch"
	}
	return fmt.Sprintf("finding(%d)", int(k))
}

// Finding is one problem found while matching two interfaces.
type Finding struct {
	Kind     FindingKind
	Location Location
	Message  string
}

/**
 * @brief Merge-walks the producer outputs against the consumer inputs, both sorted by
 * (location, component).
 * @returns the findings in location order. Unconsumed outputs are only worth a
 * performance warning; everything else is an error.
 */
func ValidateInterfaceBetweenStages(
	producer *Module, producerEP *Entrypoint, producerStage StageInfo,
	consumer *Module, consumerEP *Entrypoint, consumerStage StageInfo,
) []Finding {
	var findings []Finding

	outputs := producer.CollectInterfaceByLocation(producerEP, StorageClassOutput, producerStage.ArrayedOutput)
	inputs := consumer.CollectInterfaceByLocation(consumerEP, StorageClassInput, consumerStage.ArrayedInput)

	a, b := 0, 0
	for a < len(outputs) || b < len(inputs) {
		aAtEnd := a >= len(outputs)
		bAtEnd := b >= len(inputs)

		switch {
		case bAtEnd || (!aAtEnd && outputs[a].Location.Less(inputs[b].Location)):
			loc := outputs[a].Location
			findings = append(findings, Finding{
				Kind:     FindingOutputNotConsumed,
				Location: loc,
				Message: fmt.Sprintf("%s writes to output location %d.%d which is not consumed by %s",
					producerStage.Model, loc.Location, loc.Component, consumerStage.Model),
			})
			a++
		case aAtEnd || inputs[b].Location.Less(outputs[a].Location):
			loc := inputs[b].Location
			findings = append(findings, Finding{
				Kind:     FindingInputNotProduced,
				Location: loc,
				Message: fmt.Sprintf("%s consumes input location %d.%d which is not written by %s",
					consumerStage.Model, loc.Location, loc.Component, producerStage.Model),
			})
			b++
		default:
			out, in := outputs[a].Var, inputs[b].Var
			loc := outputs[a].Location
			if !TypesMatch(producer, out.TypeID, consumer, in.TypeID,
				producerStage.ArrayedOutput && !out.IsPatch, consumerStage.ArrayedInput && !in.IsPatch, false) {
				findings = append(findings, Finding{
					Kind:     FindingTypeMismatch,
					Location: loc,
					Message: fmt.Sprintf("Type mismatch on location %d.%d: '%s' vs '%s'",
						loc.Location, loc.Component, producer.DescribeType(out.TypeID), consumer.DescribeType(in.TypeID)),
				})
			}
			if out.IsPatch != in.IsPatch {
				findings = append(findings, Finding{
					Kind:     FindingPatchMismatch,
					Location: loc,
					Message: fmt.Sprintf("Decoration mismatch on location %d.%d: is per-%s in %s but per-%s in %s",
						loc.Location, loc.Component, perWhat(out.IsPatch), producerStage.Model, perWhat(in.IsPatch), consumerStage.Model),
				})
			}
			if out.IsRelaxedPrecision != in.IsRelaxedPrecision {
				findings = append(findings, Finding{
					Kind:     FindingPrecisionMismatch,
					Location: loc,
					Message: fmt.Sprintf("Decoration mismatch on location %d.%d: %s and %s differ in precision",
						loc.Location, loc.Component, producerStage.Model, consumerStage.Model),
				})
			}
			a++
			b++
		}
	}
	return findings
}

func perWhat(patch bool) string {
	if patch {
		return "patch"
	}
	return "vertex"
}
