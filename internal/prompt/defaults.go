// File path: internal/prompt/defaults.go
package prompt

// Baked-in templates used when no external template directory overrides a
// task. Every task has a default so the system can start without any prompt
// files on disk.
var defaultTemplates = map[Task]string{
	TaskEntityExtract: `Extract the named entities from the text below.
Respond with a JSON array only; each element must have "name", "type" and
"description" fields. Use short type labels such as Person, Org, Place, Event.

Text:
{{.text}}`,

	TaskRelationExtract: `The following entities were found in the text:
{{.entities}}

Extract the relationships between these entities, and only these entities,
from the text below. Respond with a JSON array only; each element must have
"source", "target" and "description" fields where source and target are names
from the entity list.

Text:
{{.text}}`,

	TaskTag: `Write one short tag (at most 15 words) that captures the gist of
the text below. Respond with the tag only, no punctuation around it.

Text:
{{.text}}`,

	TaskTimeLabel: `The document "{{.doc}}" begins with:
{{.sample}}

State the time range this document covers as a short free-text label, for
example "2024-03-01 to 2024-03-07" or "March 2024". Respond with the label
only. If no time can be determined respond with "unknown".`,

	TaskTimeRange: `Does the following query restrict itself to a particular
time period? Respond with a JSON object only, of the form
{"has_time": true, "time": "<the time expression>"} or {"has_time": false, "time": ""}.

Query: {{.query}}`,

	TaskTimeMatch: `A user asked about this time period: {{.time}}

These documents are available, listed as "id: time label":
{{.labels}}

Respond with a JSON array of the ids whose time label overlaps the requested
period, for example ["1","3"]. Respond with the array only.`,

	TaskQueryExpand: `Rewrite the following search query to be more explicit
and complete, keeping its original intent. Respond with the rewritten query
only.

Query: {{.query}}`,

	TaskSummaryStrict: `Answer the question using only the reference material
below. If the material does not contain the answer, say that the available
information is insufficient. Do not use outside knowledge.

Question: {{.query}}

Reference material:
{{.context}}`,

	TaskSummarySupplement: `Answer the question using the reference material
below as the primary source. You may supplement with general knowledge where
the material is incomplete, and should say when you do.

Question: {{.query}}

Reference material:
{{.context}}`,
}
