package agents

import (
	"fmt"

	"github.com/girderworks/boqd/services/boq/datatypes"
)

// extractionFocus maps each extraction unit to the instruction its agent
// receives. Every agent must answer with a single JSON object whose only
// top-level key is the unit name, so the downstream classifier can route
// the event without any out-of-band metadata.
var extractionFocus = map[datatypes.UnitName]string{
	datatypes.UnitComponentGeometry: "Extract the geometry of every structural component: piers, pier caps, " +
		"deck slabs, spans, girders and abutments, with their counts and dimensions " +
		"(length, width, depth/thickness, diameter) and units of measure.",
	datatypes.UnitPileDetails: "Extract foundation pile details: number of piles per foundation, pile type, " +
		"diameter, depth/length, cut-off levels and pile cap dimensions.",
	datatypes.UnitReinforcementDetails: "Extract reinforcement details: bar diameters, spacing, number of bars, " +
		"lap lengths, clear cover, and the component each schedule belongs to.",
	datatypes.UnitMaterialSpecs: "Extract material specifications: concrete grades (e.g. M35, M40), steel " +
		"designations (e.g. Fe500D), admixtures, and where each material is used.",
	datatypes.UnitSeismicArrestors: "Extract seismic arrestor and restraint details: type, count, capacity, " +
		"anchorage and placement.",
	datatypes.UnitStructuralNotes: "Extract general structural notes: design loads, load combinations, " +
		"exposure conditions, construction sequences and any special instructions.",
	datatypes.UnitComplianceParameters: "Extract compliance parameters: referenced design codes and standards " +
		"(e.g. IS 456, IS 2911, IRC 83), clause references and stated tolerances.",
}

func extractionPrompt(unit datatypes.UnitName, document string) string {
	return fmt.Sprintf(`You are analyzing a structural engineering drawing or document for a bridge project.

%s

If the document contains no relevant information, use an empty list as the value.

Respond with exactly one JSON object of the form:
{"%s": <extracted data as a JSON object or array>}

Do not include any other top-level keys, prose, or markdown fences.

DOCUMENT:
%s`, extractionFocus[unit], unit, document)
}

func generationPrompt(document string, findings map[datatypes.UnitName]any, issues []string) string {
	prompt := `You are preparing a Bill of Quantities (BoQ) for a bridge construction project from the structured findings below.

Produce a line item for every quantifiable element. Each line item must have the fields:
  "component"     - the structural component the item belongs to,
  "material"      - the material consumed,
  "quantity"      - the numeric quantity with its unit of measure,
  "specification" - grade, size or standard governing the item,
  "category"      - one of "concrete", "steel", "formwork", "earthwork", "misc".

Respond with exactly one JSON object of the form:
{"boq": [ <line items> ]}

Do not include any other top-level keys, prose, or markdown fences.
`
	if len(issues) > 0 {
		prompt += "\nA previous draft was rejected by validation. Fix these issues:\n"
		for _, issue := range issues {
			prompt += "  - " + issue + "\n"
		}
	}
	prompt += "\nFINDINGS:\n"
	for unit, data := range findings {
		prompt += fmt.Sprintf("%s: %v\n", unit, data)
	}
	prompt += "\nSOURCE DOCUMENT (for reference):\n" + document
	return prompt
}

func validationPrompt(report any) string {
	return fmt.Sprintf(`You are reviewing a draft Bill of Quantities for a bridge construction project.

Check that:
  - every line item has component, material, quantity, specification and category,
  - quantities carry a unit of measure and are plausible,
  - no obviously duplicated line items exist,
  - categories are one of concrete, steel, formwork, earthwork, misc.

Respond with exactly one JSON object of the form:
{"validation": "pass"}
or
{"validation": "fail", "issues": ["<specific issue>", ...]}

Do not include any other top-level keys, prose, or markdown fences.

DRAFT:
%v`, report)
}
