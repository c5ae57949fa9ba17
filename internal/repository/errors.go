package repository

import (
	"errors"
	"fmt"
)

// PackageNotFoundError reports a project the repository does not serve.
type PackageNotFoundError struct {
	Package string
}

func (e *PackageNotFoundError) Error() string {
	return fmt.Sprintf("Package '%s' was not found in the configured source", e.Package)
}

// ResourceUnavailableError reports a resource the repository cannot deliver.
type ResourceUnavailableError struct {
	Resource string
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("Resource '%s' was not found in the configured source", e.Resource)
}

// InvalidPackageError reports an artifact the backend holds but cannot
// serve coherently, e.g. a wheel with no metadata file. The HTTP layer
// maps it to 502.
type InvalidPackageError struct {
	Detail string
}

func (e *InvalidPackageError) Error() string {
	return e.Detail
}

// IsNotFound reports whether err is a package- or resource-not-found error.
func IsNotFound(err error) bool {
	var pnf *PackageNotFoundError
	var ru *ResourceUnavailableError
	return errors.As(err, &pnf) || errors.As(err, &ru)
}

// IsInvalidPackage reports whether err is a package-integrity fault.
func IsInvalidPackage(err error) bool {
	var ip *InvalidPackageError
	return errors.As(err, &ip)
}
