// Package profile persists newly issued access keys where later sessions
// pick them up.
//
// Every sink implements rotation.ProfileSink:
//
//   - SharedCredentialsFile updates one profile of ~/.aws/credentials
//   - CredentialsDir writes credentials-<user>-<key id> files
//   - KeyringSink stores a JSON document in the OS keyring
//   - SecretsManagerSink writes a secret version
//   - SSMSink writes a SecureString parameter
//
// MultiSink fans out to several sinks. A persist failure never undoes a
// rotation; the engine reports it on the outcome.
package profile
