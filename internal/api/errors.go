package api

import "errors"

var errInvalidHash = errors.New("api: invalid hex-encoded fixed-length field")

func errNotFound(kind string) error {
	return errors.New("api: " + kind + " not found")
}
