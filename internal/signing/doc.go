// Package signing verifies archive signatures and aggregates them into an
// application-wide signing state.
//
// An archive is signed by a certificate when a detached PKCS#7 block over a
// signature file covers every signable entry through the manifest digests.
// An application is fully signed when all of its non-trivial archives share
// at least one such signer.
package signing
