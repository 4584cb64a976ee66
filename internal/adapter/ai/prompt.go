// Package ai provides prompt construction, response repair and response
// parsing for the compatibility scoring pipeline.
package ai

import (
	"strings"

	"github.com/scholarsift/scholarsift/internal/domain"
	"github.com/scholarsift/scholarsift/pkg/textx"
)

// PromptVersion changes whenever the rendered prompt or the expected output
// schema changes, so cached results keyed on it are invalidated.
const PromptVersion = "v1"

// SystemPrompt frames the model's role for every scoring call.
const SystemPrompt = `You are an expert PhD admissions advisor. You evaluate how well an applicant profile matches a specific PhD opportunity. You always respond with a single valid JSON object and nothing else.`

// scoringRubric is the fixed weighted-category breakdown embedded in every
// scoring prompt.
const scoringRubric = `Evaluate compatibility using this weighted rubric:
1. Research Alignment (40%): overlap between the applicant's research interests and the opportunity's topic.
2. Technical Skills (30%): coverage of the opportunity's required skills by the applicant's skills.
3. Experience Level (20%): academic background and degree level relative to the opportunity's expectations.
4. Additional Qualifications (10%): location fit, availability, funding constraints and any other relevant factors.`

// schemaInstruction documents the canonical response contract enforced by
// ParseScoreResponse.
const schemaInstruction = `Respond with ONLY a valid JSON object matching exactly this schema:
{
  "score": number (0-100, weighted overall compatibility),
  "breakdown": {
    "researchAlignment": number (0-100),
    "technicalSkills": number (0-100),
    "experienceMatch": number (0-100),
    "additionalQualifications": number (0-100)
  },
  "explanation": string (2-3 sentences),
  "matchingPoints": string[] (concrete strengths of this match),
  "improvementAreas": string[] (concrete gaps the applicant could address)
}
No markdown, no reasoning, no text outside the JSON object.`

// BuildScoringPrompt renders the user prompt for one (profile, opportunity)
// pair. It is a pure function: identical inputs always produce byte-identical
// output. Empty fields are omitted entirely; an all-empty pair still yields
// the rubric and schema instruction.
func BuildScoringPrompt(p domain.Profile, o domain.Opportunity) string {
	var b strings.Builder
	b.WriteString(scoringRubric)
	b.WriteString("\n\nApplicant Profile:\n")
	writeProfile(&b, p)
	b.WriteString("\nPhD Opportunity:\n")
	writeOpportunity(&b, o)
	b.WriteString("\n")
	b.WriteString(schemaInstruction)
	return b.String()
}

func writeProfile(b *strings.Builder, p domain.Profile) {
	writeField(b, "Degree", p.Degree)
	writeField(b, "Field of Study", p.Field)
	writeField(b, "Institution", p.Institution)
	writeField(b, "Research Interests", textx.JoinNonEmpty(p.ResearchInterests, ", "))
	writeField(b, "Skills", joinSkills(p.Skills))
	writeField(b, "Location", p.Location)
	writeField(b, "Availability", p.Availability)
}

func writeOpportunity(b *strings.Builder, o domain.Opportunity) {
	writeField(b, "Title", o.Title)
	writeField(b, "Description", o.Description)
	writeField(b, "Institution", o.Institution)
	writeField(b, "Department", o.Department)
	writeField(b, "Supervisor", o.Supervisor)
	writeField(b, "Required Skills", textx.JoinNonEmpty(o.RequiredSkills, ", "))
	writeField(b, "Funding", o.Funding)
	writeField(b, "Deadline", o.Deadline)
	writeField(b, "Location", o.Location)
}

// writeField renders "Label: value" and is silent for empty values.
func writeField(b *strings.Builder, label, value string) {
	v := textx.Flatten(value)
	if v == "" {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(v)
	b.WriteString("\n")
}

func joinSkills(skills []domain.Skill) string {
	parts := make([]string, 0, len(skills))
	for _, s := range skills {
		name := textx.Flatten(s.Name)
		if name == "" {
			continue
		}
		if prof := textx.Flatten(s.Proficiency); prof != "" {
			name += " (" + prof + ")"
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, ", ")
}
