package config

import "errors"

var (
	// ErrMissingAccountID is returned when no account id is configured.
	ErrMissingAccountID = errors.New("account_id is required")

	// ErrMissingAPIToken is returned when no api token is configured.
	ErrMissingAPIToken = errors.New("api_token is required")
)
