package domain

import "fmt"

// ConnectionError indicates the remote session could not be established or
// was lost. It is fatal to the backend instance that raised it.
type ConnectionError struct {
	Host string
	Err  error
}

func (e ConnectionError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("connection failed: %v", e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
}

func (e ConnectionError) Unwrap() error { return e.Err }

// NotFoundError indicates a requested entity id is absent remotely.
// "Not found" is always an error, never a nil result.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// DuplicateNameError indicates a create collided with an existing name.
type DuplicateNameError struct {
	Entity EntityType
	Name   string
}

func (e DuplicateNameError) Error() string {
	return fmt.Sprintf("%s named %q already exists", e.Entity, e.Name)
}

// UnsupportedFormatError indicates an import or export format the backend
// does not handle. It is raised before any remote call is made.
type UnsupportedFormatError struct {
	Format string
}

func (e UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported data format %q", e.Format)
}

// MissingAttachmentError indicates an expected .md.json attachment is absent
// on the entity being read.
type MissingAttachmentError struct {
	Entity EntityType
	ID     string
}

func (e MissingAttachmentError) Error() string {
	return fmt.Sprintf("no metadata attachment on %s %s", e.Entity, e.ID)
}
