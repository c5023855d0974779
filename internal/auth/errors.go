// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an entity already exists or was already
// consumed (duplicate account, reset token redeemed by a concurrent caller).
var ErrConflict = errors.New("conflict")
