package apperr

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrDecode             = errors.New("undecodable payload")
	ErrRankingUnavailable = errors.New("ranking response unparseable")
	ErrNoEmbedding        = errors.New("no embedding available")
	ErrUpstream           = errors.New("model backend failed")
	ErrConflict           = errors.New("changed since it was read")
)
