// Package paygate provides identity and payment-gated authorization
// primitives: credential storage, bcrypt password handling, JWT session
// issuance/verification, a payment lifecycle state machine with an
// append-only ledger, and the per-user serialization discipline required
// to mutate shared records safely under concurrent requests.
package paygate
