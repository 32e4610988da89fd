// Package boundary exposes the rotation engine to remote callers.
//
// A caller sends an operation name and a KMS encrypted payload holding its
// own access key pair. The Handler decrypts the payload, builds an AWS
// session for those keys, resolves the IAM user behind them and runs the
// operation through the Dispatcher. The response Envelope is encrypted with
// the same key before it leaves the process.
//
// Operations:
//
//	publish_credential             Evaluate, or Rotate when force is set
//	delete_credential              Delete one credential by id
//	check_credential               report whether rotation is due
//	remove_inactive_credential     delete every Inactive credential
//	mark_inactive_older_credential deactivate the older of two credentials
//
// Server serves the Handler as POST /v1/credentials with per client IP rate
// limiting.
package boundary
