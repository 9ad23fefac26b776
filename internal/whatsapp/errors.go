package whatsapp

import "errors"

var (
	// ErrAlreadyConnecting is returned when Connect is called while a handle
	// for the same account is still mid-startup. The call is rejected, not
	// queued.
	ErrAlreadyConnecting = errors.New("whatsapp: account is already connecting")

	// ErrHandleNotFound is returned when an operation targets an account
	// with no registered client handle.
	ErrHandleNotFound = errors.New("whatsapp: no client handle for account")

	// ErrPairingExpired is returned when a pairing code is read past its
	// expiry. Expired codes are never served as stale data.
	ErrPairingExpired = errors.New("whatsapp: pairing code expired")

	// ErrNoPairing is returned when no pairing code has been issued for the
	// account.
	ErrNoPairing = errors.New("whatsapp: no pairing code issued")

	// ErrAccountInactive is returned when Connect targets an account whose
	// administrative switch is off.
	ErrAccountInactive = errors.New("whatsapp: account is administratively disabled")
)
