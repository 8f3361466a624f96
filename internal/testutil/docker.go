// Package testutil holds helpers shared by container-backed tests.
package testutil

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
)

// CheckDocker returns nil when testcontainers can reach a healthy Docker
// daemon. Docker host discovery panics when no socket is found; that panic
// is returned as an error.
func CheckDocker(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker host not found: %v", r)
		}
	}()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return err
	}
	defer provider.Close()
	return provider.Health(ctx)
}
