package config

import "github.com/dgnsrekt/feedrelay/internal/relay"

// Source kinds
const (
	SourcePostgres = "postgres"
	SourceFile     = "file"
)

// Classifier modes, shared with the relay engine.
const (
	ClassifierHeuristic = relay.ModeHeuristic
	ClassifierProgress  = relay.ModeProgress
)

// ValidSourceKinds lists accepted source.kind values
var ValidSourceKinds = map[string]bool{
	SourcePostgres: true,
	SourceFile:     true,
}

// ValidClassifierModes lists accepted classifier.mode values
var ValidClassifierModes = map[string]bool{
	ClassifierHeuristic: true,
	ClassifierProgress:  true,
}

// ValidLogLevels lists accepted logging.level values
var ValidLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}
