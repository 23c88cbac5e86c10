//go:build !linux

package server

import "github.com/sirupsen/logrus"

func newReactor(cfg Config, log logrus.FieldLogger, obs Observer) (eventLoop, error) {
	return nil, ErrReactorUnsupported
}
