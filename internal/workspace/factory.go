package workspace

import (
	"context"
	"fmt"
	"os"
)

// Open selects a workspace Store implementation using environment variables.
//
//	BIOIMAGEIT_WORKSPACE_DRIVER: fs|s3|memory (default fs)
//	BIOIMAGEIT_WORKSPACE_ROOT: directory root when driver=fs (default ./workspace)
//	(S3 specific variables documented in s3.go)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("BIOIMAGEIT_WORKSPACE_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("BIOIMAGEIT_WORKSPACE_ROOT"))
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown workspace driver %s", driver)
	}
}
