package registry

import (
	"fmt"
	"regexp"
)

// Identifiers end up in relay channel and subject names, so wildcards and
// whitespace are rejected.
var idRegexp = regexp.MustCompile(`^[A-Za-z0-9._@:-]{1,128}$`)

// ValidateID checks a user or device identifier.
func ValidateID(kind, id string) error {
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("invalid %s %q: must match ^[A-Za-z0-9._@:-]{1,128}$", kind, id)
	}
	return nil
}

// ValidateKey checks both halves of a device key.
func ValidateKey(key Key) error {
	if err := ValidateID("user id", key.UserID); err != nil {
		return err
	}
	return ValidateID("device id", key.DeviceID)
}
