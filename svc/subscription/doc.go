// Package subscription implements the billing core of the chat product: a
// user buys a time-boxed daily or weekly subscription through an external
// payment gateway, and asynchronously delivered, at-least-once, possibly
// out-of-order gateway events drive the record through its lifecycle.
//
// The package is organized around four collaborators:
//
//   - Service creates gateway invoices and pending records, enforcing the
//     one-active-subscription-per-user invariant, and handles cancellation.
//   - EventProcessor applies webhook events through the store's atomic
//     compare-and-transition primitive, making processing idempotent under
//     duplication and safe under reordering.
//   - Reconciler periodically force-expires active records whose period
//     elapsed without any gateway event.
//   - SubscriptionStore holds the records and owns both uniqueness
//     invariants; PostgresStore is authoritative, MemoryStore serves tests.
//
// External collaborators are injected as interfaces: PaymentGateway for the
// processor-side invoice API and EntitlementUpdater for propagating state to
// the chat application's user records.
package subscription
