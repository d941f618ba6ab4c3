// Package sbpgate implements the client-side protocol discipline for an
// asynchronous QR-code payment gateway: idempotent command submission with
// retry-until-complete, deadline-bounded status polling, and a payment
// lifecycle model with amount-conservation guarantees for partial refunds.
//
// The package layers over collaborators it does not implement. Transport is
// the CommandSender interface (see the http subpackage for the HTTP
// implementation); channel trust is the trust subpackage's certificate
// pinning. All authoritative payment state lives in the gateway; the client
// holds only read-only snapshots and the idempotency keys it generated.
package sbpgate
