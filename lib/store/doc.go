// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package store keeps verified archives and compression dictionaries
// on local disk.
//
// Layout under the store root:
//
//	store.db                  catalog (artifacts, packages, dictionaries)
//	content/<aggregate hex>   archive blobs as registered
//	dictionaries/<digest hex> dictionary bytes
//
// Every archive is decoded in full before it is cataloged, so a blob
// in content/ has passed digest, tree and signature verification.
// Blob and dictionary files are written to a temp file in the target
// directory and renamed into place inside the catalog transaction.
//
// Packages are mutable names for artifacts. Each registration is
// appended; the newest one wins.
package store
