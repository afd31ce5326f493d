package s3

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/smithy-go"

	"github.com/koustreak/docrelay/internal/errs"
)

// mapError translates an aws-sdk-go-v2 error into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists", "PreconditionFailed":
			return errs.Wrap(errs.ErrKindAlreadyExists, msg, err)
		case "ConditionalRequestConflict":
			return errs.Wrap(errs.ErrKindConflict, msg, err)
		case "NoSuchBucket", "NoSuchKey", "NotFound", "NoSuchBucketPolicy":
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "Forbidden", "AllAccessDisabled":
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case "InvalidBucketName", "KeyTooLongError", "InvalidArgument", "InvalidRequest", "MalformedPolicy":
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		case "RequestTimeout", "SlowDown", "ServiceUnavailable", "InternalError":
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		switch code := status.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case code == http.StatusForbidden || code == http.StatusUnauthorized:
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case code == http.StatusBadRequest:
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		case code == http.StatusPreconditionFailed:
			return errs.Wrap(errs.ErrKindAlreadyExists, msg, err)
		case code == http.StatusConflict:
			return errs.Wrap(errs.ErrKindConflict, msg, err)
		case code >= 500:
			return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
		case code != 0:
			return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
		}
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
