// Package handlers exposes the access control core over JSON HTTP endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/upb/access-control-plane/utils"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var (
	// errVersionRequired is returned when a write carries no expected version
	errVersionRequired = errors.New("expected version is required: send If-Match or expected_version")

	// errBadVersion is returned when the expected version cannot be parsed
	errBadVersion = errors.New("expected version must be a positive integer")
)

// decodeJSON decodes the request body into dst, rejecting unknown fields
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// expectedVersion reads the version a write was prepared against, from the
// If-Match header, then the body field, then the expected_version query parameter
func expectedVersion(r *http.Request, fromBody *int64) (int64, error) {
	if header := r.Header.Get("If-Match"); header != "" {
		return parseETag(header)
	}
	if fromBody != nil {
		if *fromBody < 1 {
			return 0, errBadVersion
		}
		return *fromBody, nil
	}
	if q := r.URL.Query().Get("expected_version"); q != "" {
		v, err := strconv.ParseInt(q, 10, 64)
		if err != nil || v < 1 {
			return 0, errBadVersion
		}
		return v, nil
	}
	return 0, errVersionRequired
}

// writeVersionError reports a missing or malformed expected version
func writeVersionError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status := http.StatusBadRequest
	if errors.Is(err, errVersionRequired) {
		status = http.StatusPreconditionRequired
	}
	if err := utils.WriteError(w, status, "", err.Error(), nil); err != nil {
		logger.Error("failed to write version error response", zap.Error(err))
	}
}

// etag formats a record version as a strong entity tag
func etag(version int64) string {
	return fmt.Sprintf("%q", strconv.FormatInt(version, 10))
}

// setETag exposes the record version so clients can send it back in If-Match
func setETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", etag(version))
}

func parseETag(value string) (int64, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "W/")
	value = strings.Trim(value, `"`)
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil || v < 1 {
		return 0, errBadVersion
	}
	return v, nil
}
