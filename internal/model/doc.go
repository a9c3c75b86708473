// Package model defines the types shared by every stage of the sync pipeline.
//
// It holds:
//   - Resource and Participant: one input unit and the people it names
//   - StructuredEntities: the closed set of extracted variants (companies,
//     contacts, activities, tasks, deals) with their required fields
//   - EntityReference: an upsertable contact or company keyed by natural key
//   - RemoteID: an identifier issued by the CRM
//   - Error: the pipeline error taxonomy
//
// Natural keys are normalized here (NFC, lower case, domain reduction) so
// that the ledger, the resolver and the orchestrator agree on identity.
package model
