// Package adaptive provides authenticated encryption for data at rest.
//
// New picks AES-GCM where the platform accelerates it and ChaCha20-Poly1305
// elsewhere. Ciphertexts carry their nonce as a prefix, so a Cipher needs
// nothing but its key to decrypt. DeriveSubkey splits one master key into
// independent per-purpose keys.
package adaptive
