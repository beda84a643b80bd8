package telegram

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oktaras/ad-marketplace-backend-sub000/platform"
)

var threadMissingMarkers = []string{
	"message thread not found",
	"thread not found",
	"topic not found",
	"topic_deleted",
	"topic_closed",
	"topic_id_invalid",
	"message_thread_id_invalid",
	"thread_id_invalid",
	"invalid message thread",
	"invalid thread",
}

var capabilityMarkers = []string{
	"method not found",
	"not a forum",
	"forum topics are disabled",
	"topics are disabled",
	"not enough rights to manage topics",
	"method is available only",
}

// classify maps a Bot API failure onto the platform error classes. Errors
// that fit neither class are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return err
	}
	desc := strings.ToLower(strings.TrimSpace(reqErr.Description))
	if desc == "" {
		desc = strings.ToLower(reqErr.Body)
	}
	for _, m := range threadMissingMarkers {
		if strings.Contains(desc, m) {
			return fmt.Errorf("%w: %w", platform.ErrThreadMissing, err)
		}
	}
	for _, m := range capabilityMarkers {
		if strings.Contains(desc, m) {
			return fmt.Errorf("%w: %w", platform.ErrCapabilityUnavailable, err)
		}
	}
	if reqErr.StatusCode == 404 {
		return fmt.Errorf("%w: %w", platform.ErrCapabilityUnavailable, err)
	}
	return err
}

// isFieldRejected reports whether the API refused a request parameter name,
// which means the next thread-id field candidate should be tried.
func isFieldRejected(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	desc := strings.ToLower(reqErr.Description)
	return strings.Contains(desc, "unknown parameter") ||
		strings.Contains(desc, "unexpected parameter") ||
		(strings.Contains(desc, "field") && strings.Contains(desc, "unsupported"))
}
