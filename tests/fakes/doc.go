// Package fakes provides test doubles for keyrotate collaborators.
//
// This package contains hand-written fakes of the AWS SDK clients used by the
// IAM store, the STS resolver and the profile sinks, plus an in-memory
// credential store for engine tests. Fakes give precise control over errors
// and record the calls they receive.
//
// Usage:
//
//	iamClient := fakes.NewFakeIAMClient()
//	iamClient.AddAccessKey("deploy", fakes.FakeAccessKey{ID: "AKIAOLD", Status: "Active"})
//	store := providers.NewIAMStore(aws.Config{}, providers.WithIAMClient(iamClient))
//	// Test store methods...
package fakes
