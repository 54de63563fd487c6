// Package xendit implements a small client for the Xendit invoice API: create,
// fetch and expire invoices, fetch payments, and verify inbound callback
// tokens in constant time.
//
// The client deliberately stays close to the wire format and knows nothing
// about subscriptions; svc/subscription adapts it to the PaymentGateway port.
package xendit
