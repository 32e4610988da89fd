// Package secure handles the secret material that crosses the request
// boundary.
//
// Inbound payloads and outbound envelopes are encrypted with a KMS key
// through gocloud.dev/secrets keepers. Decrypted access key secrets are held
// in memguard enclaves until the session that needs them is built.
//
// # Usage
//
//	ch := secure.NewKeeperChannel(secure.WithDefaultKey("alias/keyrotate"), secure.WithKMSRegion("eu-west-1"))
//	defer ch.Close()
//
//	buf, err := ch.DecryptSecure(ctx, ciphertext, "")
//	if err != nil {
//	    return err
//	}
//	defer buf.Destroy()
//
//	err = buf.With(func(plaintext []byte) error {
//	    // plaintext is wiped when fn returns
//	    return nil
//	})
//
// Tests use base64key:// URLs, which need no cloud access.
//
// # Platform Behavior
//
// memguard locks enclave pages with mlock. On Linux this is bounded by
// RLIMIT_MEMLOCK. Call memguard.Purge at process exit to wipe every enclave
// key.
package secure
