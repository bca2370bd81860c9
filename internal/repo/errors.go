package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// errRetry marks a branch decision invalidated by a concurrent writer.
var errRetry = errors.New("concurrent update, retry")

func isDupKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// driver messages differ and older dialects don't translate
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique violation") ||
		strings.Contains(msg, "duplicate key")
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errRetry) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"deadlock",                                // mysql 1213, postgres 40P01
		"could not serialize",                     // postgres 40001
		"lock wait timeout",                       // mysql 1205
		"canceling statement due to lock timeout", // postgres 55P03
		"database is locked",                      // sqlite busy
		"database table is locked",                // sqlite shared cache
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
