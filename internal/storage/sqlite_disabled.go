//go:build nosqlite

package storage

import (
	"errors"

	"remindbot/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite storage not built: rebuild without -tags nosqlite")
}
