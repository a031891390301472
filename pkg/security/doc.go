/*
Package security groups the cryptographic building blocks of nimbus.

  - kms: key-management providers (AWS KMS, local HSM keyring) that wrap
    and unwrap data keys
  - encryption: envelope encryption of payloads with a per-envelope data
    key under AES-256-GCM or ChaCha20-Poly1305
  - tls: HTTPS configuration and certificate reload for the access server

The root package holds no code.
*/
package security
