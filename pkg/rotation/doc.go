// Package rotation decides when an identity's access keys must be rotated and
// carries out the rotation against the identity provider.
//
// # Architecture Overview
//
//	┌──────────────────────────────────────────────┐
//	│      CLI commands / request boundary         │
//	└──────────────────────┬───────────────────────┘
//	                       │ Evaluate(identity)
//	┌──────────────────────▼───────────────────────┐
//	│               Engine                         │
//	│   list ─► Decide ─► repair | cleanup | rotate│
//	└───────┬─────────────────────────┬────────────┘
//	        │                         │
//	┌───────▼─────────┐      ┌────────▼────────┐
//	│ CredentialStore │      │   ProfileSink   │
//	│   (IAM keys)    │      │ (local profile) │
//	└─────────────────┘      └─────────────────┘
//
// # Policy
//
// Decide is a pure function over a freshly listed credential.Set. The provider
// allows two keys per user, so the interesting states are small:
//
//   - one key, younger than the maximum age: nothing to do
//   - one key, at or past the maximum age: rotate
//   - two Active keys: a previous cycle was interrupted; retire the older one
//   - one Active and one Inactive key: delete the Inactive leftover
//   - no keys, no Active keys, or more than two keys: fatal
//
// # Rotation Sequence
//
// A rotation always runs create, deactivate, persist, delete, in that order,
// so the identity keeps a usable key at every point:
//
//	[A active]                  create B
//	[A active, B active]        deactivate A
//	[A inactive, B active]      persist B to the profile sink
//	[A inactive, B active]      delete A
//	[B active]
//
// A failure at any step leaves a state the next Evaluate call repairs. The
// engine never retries on its own.
//
// # Concurrency
//
// Operations on the same identity are serialized and concurrent Evaluate
// calls share a single cycle. Different identities proceed in parallel.
package rotation
