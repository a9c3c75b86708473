// Package engine implements the idempotent sync core.
//
// Three components cooperate, leaves first:
//
//   - Resolver looks a record up in the CRM by natural key (email for a
//     contact, domain for a company).
//   - Coordinator performs search-before-write upserts: patch the existing
//     record with only the locally known fields, or create it when absent.
//   - Orchestrator drives one resource through extraction, primary upserts
//     (companies, then contacts), secondary writes (notes, tasks, deals) and
//     finally the ledger commit.
//
// STATE MACHINE:
//
//	NotStarted → Extracting → SyncingCompany → SyncingContacts →
//	LoggingActivities → CreatingFollowUps → Completed
//
// Failed is absorbing and reachable from every non-terminal state. A run
// that ends anywhere but Completed writes nothing to the ledger, so an
// aborted or failed resource can be retried without cleanup.
//
// FAILURE BOUNDARY:
//
// Primary writes (company and contact upserts) are all-or-nothing for the
// resource: one failure fails the run. Secondary writes have no natural key
// to deduplicate against, so they are attempted once; a failure downgrades
// the outcome to partial and the ledger is still committed.
//
// Remote calls made by the resolver and the coordinator go through an
// injected retry.Policy. Nothing in this package keeps per-run state on the
// Orchestrator, so Run may be called concurrently for distinct resources.
package engine
