// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

// Package auth provides the account-security core for Revora.
//
// # Domain Types
//
// Domain types (Account, Session, PasswordReset) should be created
// using their respective constructors:
//   - NewAccount - creates an Account with normalized email and password hash
//   - NewSession - creates a Session with validated account and expiry
//   - NewPasswordReset - creates a PasswordReset with validated account and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - signup, login, logout, password change
//   - SessionService - session creation and invalidation
//   - PasswordResetService - reset-token issuance and redemption
//
// Services are created with New*Service constructors that validate dependencies.
package auth
