package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrMalformedLocator = errors.New("malformed locator")
var ErrOriginUnavailable = errors.New("origin unavailable")
var ErrProbeFailed = errors.New("probe failed")
var ErrTranscodeSpawnFailed = errors.New("transcode spawn failed")
