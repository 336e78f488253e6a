package rutabaga

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package and by the bundled
// components matches exactly one of these with errors.Is.
var (
	// ErrNotFound is returned when an id does not name a live object.
	ErrNotFound = errors.New("rutabaga: not found")

	// ErrAlreadyExists is returned when an id is already in use.
	ErrAlreadyExists = errors.New("rutabaga: already exists")

	// ErrUnsupported is returned when a component does not implement
	// the requested operation.
	ErrUnsupported = errors.New("rutabaga: unsupported")

	// ErrSpecViolation is returned when a request breaks an invariant
	// of the virtio-gpu protocol.
	ErrSpecViolation = errors.New("rutabaga: protocol violation")

	// ErrInvalidHandle is returned when a resource has no handle or the
	// handle cannot be handed out with the required ownership.
	ErrInvalidHandle = errors.New("rutabaga: invalid handle")

	// ErrInvalidComponent is returned when a request resolves to a
	// component that was not instantiated.
	ErrInvalidComponent = errors.New("rutabaga: invalid component")

	// ErrInvalidBuild is returned by Build for an unusable configuration.
	ErrInvalidBuild = errors.New("rutabaga: invalid build")

	// ErrInvalidVulkanInfo is returned when a resource carries no Vulkan
	// memory metadata.
	ErrInvalidVulkanInfo = errors.New("rutabaga: invalid vulkan info")
)

// Specific variants.
var (
	ErrInvalidResourceID = fmt.Errorf("%w: resource id", ErrNotFound)
	ErrInvalidContextID  = fmt.Errorf("%w: context id", ErrNotFound)
	ErrInvalidCapset     = fmt.Errorf("%w: capset", ErrNotFound)
	ErrInvalidIovec      = fmt.Errorf("%w: iovec", ErrNotFound)
	ErrResourceExists    = fmt.Errorf("%w: resource id", ErrAlreadyExists)
	ErrContextExists     = fmt.Errorf("%w: context id", ErrAlreadyExists)
)
