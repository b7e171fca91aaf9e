package main

import (
	"context"
	"fmt"
	"os"

	"github.com/SirClappington/jobexec/internal/backend"
	"github.com/SirClappington/jobexec/internal/config"
	"github.com/SirClappington/jobexec/internal/domain"
)

func main() {
	root := newRootCmd(func(ctx context.Context, cfg config.Config) (domain.Store, error) {
		return backend.Open(ctx, cfg)
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
