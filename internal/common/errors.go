// Package common defines sentinel errors shared by the message log
// components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrorNotFound     = errors.New("not found")
	ErrNotTimestamped = errors.New("record is not timestamped")

	// Hash chain errors. These are programming errors and are not retried.
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")
	ErrEmptyBatch           = errors.New("empty batch")
	ErrBuilderClosed        = errors.New("hash chain builder is closed")
	ErrNotFinished          = errors.New("hash chain builder is not finished")
	ErrHashChainMismatch    = errors.New("hash chain does not match chain result")

	// Timestamping errors. The batch is aborted and retried on the next cycle.
	ErrOutdatedConfiguration  = errors.New("global configuration is outdated")
	ErrTsaUnreachable         = errors.New("time-stamping authority unreachable")
	ErrTsaTimeout             = errors.New("time-stamping authority timed out")
	ErrMalformedTsaResponse   = errors.New("malformed time-stamping response")
	ErrTsaRejected            = errors.New("time-stamping request rejected")
	ErrNoTimestampingProvider = errors.New("no time-stamping providers configured")
	ErrTimestampingFailed     = errors.New("time-stamping has been failing for too long")

	// Archiving and cleanup errors.
	ErrArchiveWriteFailed = errors.New("archive write failed")
	ErrCleanupBatchFailed = errors.New("cleanup batch failed")

	// Admin endpoint auth errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
