// Package runctx holds the identity of a single pipeline run.
package runctx

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"
)

const (
	// TimestampLayout formats the run timestamp inside the run identifier.
	TimestampLayout = "2006_01_02__15_04_05"

	// TokenLength is the number of characters in the random run token.
	TokenLength = 10

	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789abcdefghijklmnopqrstuvwxyz"
)

// RunContext is the immutable identity of one run: the time it started and
// a random alphanumeric token. It is created once at process start and passed
// to every component that stamps or names artifacts.
type RunContext struct {
	timestamp time.Time
	token     string
}

// New captures the current time and draws a fresh token.
func New() (RunContext, error) {
	return NewFrom(time.Now(), rand.Reader)
}

// NewFrom builds a RunContext from an explicit start time and randomness source.
func NewFrom(now time.Time, random io.Reader) (RunContext, error) {
	token, err := newToken(random)
	if err != nil {
		return RunContext{}, err
	}
	return RunContext{timestamp: now, token: token}, nil
}

// Timestamp returns the run start time.
func (r RunContext) Timestamp() time.Time {
	return r.timestamp
}

// Token returns the random run token.
func (r RunContext) Token() string {
	return r.token
}

// ID returns the run identifier, e.g. 2024_05_01__13_45_00_aZ3kQ9xP2m.
func (r RunContext) ID() string {
	return r.timestamp.Format(TimestampLayout) + "_" + r.token
}

func (r RunContext) String() string {
	return r.ID()
}

// newToken draws TokenLength characters uniformly from tokenAlphabet using
// rejection sampling over random bytes.
func newToken(random io.Reader) (string, error) {
	const limit = 256 - 256%len(tokenAlphabet)

	out := make([]byte, 0, TokenLength)
	buf := make([]byte, TokenLength*2)
	for len(out) < TokenLength {
		if _, err := io.ReadFull(random, buf); err != nil {
			return "", fmt.Errorf("generate run token: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == TokenLength {
				break
			}
		}
	}
	return string(out), nil
}
