// Package rules implements the record automation rules.
//
// Every rule is stateless: each evaluation is a pure re-derivation from the
// record snapshot in the envelope, never a diff against an earlier result.
// Rules never read their own target to decide what to write.
//
// Three kinds exist:
//   - IdentifierAssigner: prefix + zero-padded record number, persisted
//     through a single remote update after a successful save
//   - KeywordTableClassifier: fixed label when any table row's column
//     contains a keyword, else an explicit clear
//   - PriorityFallbackFiller: first non-empty field of a priority list,
//     else an explicit clear
//
// A rule whose target field is absent from the record does nothing.
package rules
