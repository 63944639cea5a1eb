package broker

import "errors"

var (
	// ErrProducerAlreadyActive is returned by the registry when a second
	// producer attempts to register for a session that already has one.
	ErrProducerAlreadyActive = errors.New("session already active")

	// ErrNoSuchSession is returned by Manager.AttachViewer for a session_id
	// that has no live session resources.
	ErrNoSuchSession = errors.New("no such session")
)
