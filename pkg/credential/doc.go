// Package credential defines the data model shared by the rotation policy,
// the reconciliation engine and the provider adapters.
//
// A Credential is one access key issued for an Identity. A Set is the
// snapshot of every key the provider reports for that identity at one
// instant. Sets are fetched fresh at the start of every decision and are
// never cached or shared between reconciliation cycles.
//
// The provider allows at most MaxPerIdentity keys per identity. Set.Validate
// reports a violation of that limit as ErrLimitExceeded.
package credential
