package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// Pinger is anything with a reachability probe
type Pinger interface {
	Ping() error
}

// DirReadable checks that dir exists on fs and can be listed
func DirReadable(fs afero.Fs, dir string) Check {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		fi, err := fs.Stat(dir)
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		f, err := fs.Open(dir)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
}

// Reachable checks p answers its ping
func Reachable(p Pinger) Check {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return p.Ping()
	}
}
