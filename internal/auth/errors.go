package auth

import "errors"

// ErrInvalidCredentials covers both a login with a wrong
// password/unknown email and a lookup against an invalid or expired
// bearer token — §7's Auth kind.
var ErrInvalidCredentials = errors.New("auth: invalid credentials or session")

// ErrRegistrationDisabled is returned by Register when the server's
// allow_registration flag is off (§7 Conflict, §6 --allow-registration).
var ErrRegistrationDisabled = errors.New("auth: registration is disabled")

// ErrEmailTaken is returned by Register when the email is already
// registered (§7 Conflict: "duplicate registration").
var ErrEmailTaken = errors.New("auth: email already registered")
